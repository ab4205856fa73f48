package mongostore

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/storetest"
)

var nonDBNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func TestMongostore_ConformsToStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()
	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mongoContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T) store.Store {
		// Each subtest gets its own database so the unique indexes on
		// campaign_id don't leak state across storetest's subtests.
		dbName := nonDBNameChars.ReplaceAllString(t.Name(), "_")
		db := client.Database(dbName)
		t.Cleanup(func() { _ = db.Drop(context.Background()) })

		s, err := New(context.Background(), db)
		require.NoError(t, err)
		return s
	})
}
