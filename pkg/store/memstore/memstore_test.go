package memstore

import (
	"testing"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/storetest"
)

func TestMemstore_ConformsToStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
