package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/model"
)

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func sampleDetection() *model.Detection {
	elapsed := 0.37
	return &model.Detection{
		ID:               "det-1",
		UserID:           "user-1",
		Filename:         "det-1.png",
		OriginalFilename: "face.png",
		Prediction:       model.PredictionDeepfake,
		Confidence:       0.91,
		ProcessingTime:   &elapsed,
		CreatedAt:        time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC),
	}
}

func TestDetailCacheRetriesTransientSet(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{transientRedisError{}}
	c := newDetailCache(cache, time.Minute, zap.NewNop())

	c.put(context.Background(), sampleDetection())
	if len(cache.setKeys) != 2 {
		t.Fatalf("expected a retry, got %d set calls", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}

	got, ok := c.get(context.Background(), "det-1")
	if !ok {
		t.Fatal("expected cache hit after retried set")
	}
	want := sampleDetection()
	if got.ID != want.ID || got.UserID != want.UserID || !got.CreatedAt.Equal(want.CreatedAt) || *got.ProcessingTime != *want.ProcessingTime {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDetailCacheIgnoresPermanentFailures(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{errors.New("OOM command not allowed")}
	c := newDetailCache(cache, time.Minute, zap.NewNop())

	c.put(context.Background(), sampleDetection())
	if len(cache.setKeys) != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", len(cache.setKeys))
	}
	if _, ok := c.get(context.Background(), "det-1"); ok {
		t.Fatal("expected miss after failed set")
	}
}

func TestDetailCacheDisabled(t *testing.T) {
	c := newDetailCache(nil, time.Minute, zap.NewNop())
	c.put(context.Background(), sampleDetection())
	if _, ok := c.get(context.Background(), "det-1"); ok {
		t.Fatal("nil cache must always miss")
	}
	c.evict(context.Background(), "det-1")
}

func TestDetailCacheRetriesTransientEvict(t *testing.T) {
	cache := newStubCache()
	c := newDetailCache(cache, time.Minute, zap.NewNop())
	c.put(context.Background(), sampleDetection())
	cache.delErrs = []error{transientRedisError{}}

	c.evict(context.Background(), "det-1")
	if len(cache.delKeys) != 2 {
		t.Fatalf("expected evict to be retried, got %v", cache.delKeys)
	}
	if _, ok := c.get(context.Background(), "det-1"); ok {
		t.Fatal("entry survived a retried evict")
	}
}
