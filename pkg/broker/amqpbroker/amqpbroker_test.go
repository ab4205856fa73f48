package amqpbroker

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestStringMapToTable_RoundTrips(t *testing.T) {
	in := map[string]string{"source": "svc-a", "sdk_version": "1.0"}
	table := stringMapToTable(in)
	assert.Equal(t, "svc-a", table["source"])
	assert.Equal(t, "1.0", table["sdk_version"])
}

func TestTableToStringMap_IncludesRoutingKey(t *testing.T) {
	table := amqp.Table{"source": "svc-a", "has_error": true}
	out := tableToStringMap(table, "campaign.step.complete")
	assert.Equal(t, "svc-a", out["source"])
	assert.Equal(t, "true", out["has_error"])
	assert.Equal(t, "campaign.step.complete", out["routing_key"])
}
