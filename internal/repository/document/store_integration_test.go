//go:build integration

package document

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/repository"
	"github.com/example/deepfake-detector/internal/repository/repotest"
)

func TestStoreBehaviourMongo(t *testing.T) {
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	repotest.Run(t, func(t *testing.T) repository.Store {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := Open(openCtx, config.DocumentConfig{URI: uri, Database: "dfd_" + uuid.NewString()[:8]}, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}
