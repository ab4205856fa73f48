package mqttbroker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageHeaders(t *testing.T) {
	h := messageHeaders("campaigns/c1/step/t1", 1)
	assert.Equal(t, "campaigns/c1/step/t1", h["topic"])
	assert.Equal(t, "1", h["qos"])
}
