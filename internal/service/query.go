package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/logging"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

// FileRemover deletes stored uploads.
type FileRemover interface {
	Delete(key string) error
}

// QueryService serves a user's history, single records, deletes and stats.
type QueryService struct {
	store  repository.DetectionStore
	files  FileRemover
	cache  *detailCache
	logger *zap.Logger
}

// NewQueryService constructs a QueryService. cache may be nil.
func NewQueryService(store repository.DetectionStore, files FileRemover, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *QueryService {
	logger = logger.Named("query")
	return &QueryService{
		store:  store,
		files:  files,
		cache:  newDetailCache(cache, cacheTTL, logger),
		logger: logger,
	}
}

// History returns one page of userID's detections, newest first.
func (s *QueryService) History(ctx context.Context, userID string, page, limit int) (*model.DetectionPage, error) {
	if !model.ValidPage(page, limit) {
		return nil, apperror.Validation("query.history", "Invalid pagination parameters")
	}
	return s.store.ListDetections(ctx, userID, page, limit)
}

// Detail returns one detection owned by userID, served from cache when possible.
// Only the recorder fills the cache; a read that raced a delete must not put
// the removed record back.
func (s *QueryService) Detail(ctx context.Context, userID, id string) (*model.Detection, error) {
	if cached, ok := s.cache.get(ctx, id); ok {
		if cached.UserID == userID {
			return cached, nil
		}
		return nil, apperror.NotFound("query.detail", "Detection not found")
	}
	return s.store.GetDetection(ctx, id, userID)
}

// Delete removes the record first, then its file. A file that cannot be
// removed is logged; the record is already gone.
func (s *QueryService) Delete(ctx context.Context, userID, id string) error {
	opLogger := logging.WithOperation(s.logger, "query.delete", id)

	d, err := s.store.GetDetection(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDetection(ctx, id, userID); err != nil {
		return err
	}
	s.cache.evict(ctx, id)

	if err := s.files.Delete(d.Filename); err != nil {
		opLogger.Error("failed to remove detection file", zap.String("filename", d.Filename), zap.Error(err))
	}
	opLogger.Info("detection deleted", zap.String("user_id", userID))
	return nil
}

// Stats aggregates userID's detections. A storage failure yields zero stats.
func (s *QueryService) Stats(ctx context.Context, userID string) *model.DetectionStats {
	stats, err := s.store.AggregateDetections(ctx, userID)
	if err != nil {
		logging.WithOperation(s.logger, "query.stats", "").Warn("aggregate failed, returning empty stats",
			zap.String("user_id", userID), zap.Error(err))
		return &model.DetectionStats{}
	}
	return stats
}
