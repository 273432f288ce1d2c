//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/kv/kvtest"
)

func TestStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mongoC, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	defer func() { require.NoError(t, mongoC.Terminate(context.Background())) }()

	uri, err := mongoC.ConnectionString(ctx)
	require.NoError(t, err)

	var store *Store
	require.Eventually(t, func() bool {
		store, err = Open(ctx, Config{URI: uri, Database: "saga_test"}, zap.NewNop())
		return err == nil
	}, 30*time.Second, 500*time.Millisecond, "mongo did not become ready")
	defer store.Close()

	kvtest.RunContract(t, store)
}
