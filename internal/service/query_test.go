package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/model"
)

func seedDetection(t *testing.T, store *memStore, files FileStore, id, userID string, pred model.Prediction, conf float64, at time.Time) model.Detection {
	t.Helper()
	d := model.Detection{
		ID:               id,
		UserID:           userID,
		Filename:         id + ".jpg",
		OriginalFilename: "face.jpg",
		Prediction:       pred,
		Confidence:       conf,
		CreatedAt:        at,
	}
	if files != nil {
		if _, err := files.Save(strings.NewReader("pixels"), d.Filename, 0); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}
	if err := store.CreateDetection(context.Background(), &d); err != nil {
		t.Fatalf("seed detection: %v", err)
	}
	return d
}

func TestHistoryValidatesPaging(t *testing.T) {
	store := newMemStore()
	svc := NewQueryService(store, newTestFiles(t), nil, 0, zap.NewNop())

	for _, tc := range [][2]int{{0, 10}, {1, 0}, {1, model.MaxLimit + 1}} {
		_, err := svc.History(context.Background(), "user-1", tc[0], tc[1])
		if !errors.Is(err, apperror.ErrValidation) {
			t.Fatalf("page=%d limit=%d: expected validation error, got %v", tc[0], tc[1], err)
		}
	}
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		seedDetection(t, store, nil, id, "user-1", model.PredictionReal, 0.9, base.Add(time.Duration(i)*time.Minute))
	}
	svc := NewQueryService(store, newTestFiles(t), nil, 0, zap.NewNop())

	page, err := svc.History(context.Background(), "user-1", 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 3 || page.Pages != 2 || len(page.Items) != 2 || page.Items[0].ID != "c" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = svc.History(context.Background(), "user-1", 3, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Items) != 0 || page.Total != 3 {
		t.Fatalf("expected empty overflow page, got %+v", page)
	}
}

func TestDetailUsesCacheAndChecksOwnership(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	store.addUser("user-2")
	d := seedDetection(t, store, nil, "det-1", "user-1", model.PredictionDeepfake, 0.8, time.Now().UTC())
	cache := newStubCache()
	svc := NewQueryService(store, newTestFiles(t), cache, time.Minute, zap.NewNop())
	svc.cache.put(context.Background(), &d)

	got, err := svc.Detail(context.Background(), "user-1", "det-1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if got.ID != "det-1" || store.getCalls != 0 {
		t.Fatalf("expected cache hit, got %+v after %d store reads", got, store.getCalls)
	}

	_, err = svc.Detail(context.Background(), "user-2", "det-1")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

func TestDetailDoesNotCacheStoreReads(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	seedDetection(t, store, nil, "det-1", "user-1", model.PredictionReal, 0.7, time.Now().UTC())
	cache := newStubCache()
	svc := NewQueryService(store, newTestFiles(t), cache, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := svc.Detail(context.Background(), "user-1", "det-1"); err != nil {
			t.Fatalf("detail: %v", err)
		}
	}
	if store.getCalls != 2 {
		t.Fatalf("expected both reads to reach the store, got %d", store.getCalls)
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("read path must not fill the cache, got %v", cache.setKeys)
	}
}

// slowReadStore holds the first GetDetection after it has read the record
// until release is closed.
type slowReadStore struct {
	*memStore
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func (s *slowReadStore) GetDetection(ctx context.Context, id, userID string) (*model.Detection, error) {
	d, err := s.memStore.GetDetection(ctx, id, userID)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.reading)
		<-s.release
	}
	return d, err
}

func TestDetailRacingDeleteLeavesNoStaleEntry(t *testing.T) {
	mem := newMemStore()
	mem.addUser("user-1")
	files := newTestFiles(t)
	seedDetection(t, mem, files, "det-1", "user-1", model.PredictionDeepfake, 0.9, time.Now().UTC())
	store := &slowReadStore{memStore: mem, reading: make(chan struct{}), release: make(chan struct{})}
	cache := newStubCache()
	svc := NewQueryService(store, files, cache, time.Minute, zap.NewNop())

	detailErr := make(chan error, 1)
	go func() {
		_, err := svc.Detail(context.Background(), "user-1", "det-1")
		detailErr <- err
	}()

	select {
	case <-store.reading:
	case <-time.After(2 * time.Second):
		t.Fatal("detail never reached the store")
	}
	if err := svc.Delete(context.Background(), "user-1", "det-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(store.release)

	select {
	case err := <-detailErr:
		if err != nil {
			t.Fatalf("in-flight detail: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detail did not finish")
	}

	if _, ok := cache.values[detectionCacheKey("det-1")]; ok {
		t.Fatal("deleted detection is still cached")
	}
	if _, err := svc.Detail(context.Background(), "user-1", "det-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestDetailFallsBackWhenCacheFails(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	seedDetection(t, store, nil, "det-1", "user-1", model.PredictionReal, 0.6, time.Now().UTC())
	cache := newStubCache()
	cache.getErrs = []error{errors.New("connection refused")}
	svc := NewQueryService(store, newTestFiles(t), cache, time.Minute, zap.NewNop())

	if _, err := svc.Detail(context.Background(), "user-1", "det-1"); err != nil {
		t.Fatalf("expected store fallback, got %v", err)
	}
	if store.getCalls != 1 {
		t.Fatalf("expected one store read, got %d", store.getCalls)
	}
}

func TestDeleteRemovesRecordFileAndCacheEntry(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	store.addUser("user-2")
	files := newTestFiles(t)
	d := seedDetection(t, store, files, "det-1", "user-1", model.PredictionReal, 0.9, time.Now().UTC())
	cache := newStubCache()
	svc := NewQueryService(store, files, cache, time.Minute, zap.NewNop())

	if err := svc.Delete(context.Background(), "user-2", "det-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	if !files.Exists(d.Filename) {
		t.Fatal("foreign delete must keep the file")
	}

	if err := svc.Delete(context.Background(), "user-1", "det-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Detail(context.Background(), "user-1", "det-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if files.Exists(d.Filename) {
		t.Fatal("file should be removed")
	}
	if len(cache.delKeys) != 1 || cache.delKeys[0] != detectionCacheKey("det-1") {
		t.Fatalf("expected cache eviction, got %v", cache.delKeys)
	}
}

func TestStatsDegradesToZero(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	seedDetection(t, store, nil, "a", "user-1", model.PredictionReal, 0.8, time.Now().UTC())
	seedDetection(t, store, nil, "b", "user-1", model.PredictionDeepfake, 0.6, time.Now().UTC())
	seedDetection(t, store, nil, "c", "user-1", model.PredictionError, 0, time.Now().UTC())
	svc := NewQueryService(store, newTestFiles(t), nil, 0, zap.NewNop())

	stats := svc.Stats(context.Background(), "user-1")
	if stats.Total != 2 || stats.RealCount != 1 || stats.DeepfakeCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := model.Round(stats.AverageConfidence, 4); got != 0.7 {
		t.Fatalf("unexpected average %v", got)
	}

	store.aggErr = apperror.Persistence("mem.aggregate", errors.New("down"))
	stats = svc.Stats(context.Background(), "user-1")
	if *stats != (model.DetectionStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}
