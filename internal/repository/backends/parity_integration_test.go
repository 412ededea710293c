//go:build integration

package backends

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
	"github.com/example/deepfake-detector/internal/repository/repotest"
)

// The same write sequence must produce identical reads on both backends.
func TestBackendParity(t *testing.T) {
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })
	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	cfg.Relational.DSN = "file:parity?mode=memory&cache=shared"
	cfg.Document = config.DocumentConfig{URI: uri, Database: "parity"}

	rel, err := OpenRelational(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer rel.Close(ctx)
	doc, err := OpenDocument(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer doc.Close(ctx)

	user := repotest.NewUser("parity")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var writes []*model.Detection
	for i, conf := range []float64{0.91, 0.55, 0.73, 0.99, 0.61} {
		pred := model.PredictionReal
		if i%2 == 1 {
			pred = model.PredictionDeepfake
		}
		writes = append(writes, repotest.NewDetection(user.ID, pred, conf, base.Add(time.Duration(i%3)*time.Second)))
	}

	for _, store := range []repository.Store{rel, doc} {
		require.NoError(t, store.CreateUser(ctx, user))
		for _, d := range writes {
			require.NoError(t, store.CreateDetection(ctx, d))
		}
	}

	relStats, err := rel.AggregateDetections(ctx, user.ID)
	require.NoError(t, err)
	docStats, err := doc.AggregateDetections(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, relStats.Total, docStats.Total)
	assert.Equal(t, relStats.RealCount, docStats.RealCount)
	assert.Equal(t, relStats.DeepfakeCount, docStats.DeepfakeCount)
	assert.InDelta(t, relStats.AverageConfidence, docStats.AverageConfidence, 1e-9)

	for page := 1; page <= 3; page++ {
		relPage, err := rel.ListDetections(ctx, user.ID, page, 2)
		require.NoError(t, err)
		docPage, err := doc.ListDetections(ctx, user.ID, page, 2)
		require.NoError(t, err)
		assert.Equal(t, relPage.Total, docPage.Total)
		assert.Equal(t, relPage.Pages, docPage.Pages)
		require.Equal(t, len(relPage.Items), len(docPage.Items))
		for i := range relPage.Items {
			assert.Equal(t, relPage.Items[i].ID, docPage.Items[i].ID)
			assert.True(t, relPage.Items[i].CreatedAt.Equal(docPage.Items[i].CreatedAt))
		}
	}
}
