package service

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/filestore"
	"github.com/example/deepfake-detector/internal/inference"
	"github.com/example/deepfake-detector/internal/model"
)

type memStore struct {
	mu         sync.Mutex
	users      map[string]model.User
	detections map[string]model.Detection

	createErr error
	aggErr    error
	getCalls  int
}

func newMemStore() *memStore {
	return &memStore{users: map[string]model.User{}, detections: map[string]model.Detection{}}
}

func (s *memStore) CreateDetection(ctx context.Context, d *model.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.users[d.UserID]; !ok {
		return apperror.Persistence("mem.create_detection", os.ErrNotExist)
	}
	s.detections[d.ID] = *d
	return nil
}

func (s *memStore) ListDetections(ctx context.Context, userID string, page, limit int) (*model.DetectionPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owned []model.Detection
	for _, d := range s.detections {
		if d.UserID == userID {
			owned = append(owned, d)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID < owned[j].ID
	})
	total := int64(len(owned))
	start := min(model.Offset(page, limit), len(owned))
	end := min(start+limit, len(owned))
	return &model.DetectionPage{
		Items:       append([]model.Detection{}, owned[start:end]...),
		Total:       total,
		Pages:       model.PageCount(total, limit),
		CurrentPage: page,
	}, nil
}

func (s *memStore) GetDetection(ctx context.Context, id, userID string) (*model.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	d, ok := s.detections[id]
	if !ok || d.UserID != userID {
		return nil, apperror.NotFound("mem.get_detection", "Detection not found")
	}
	return &d, nil
}

func (s *memStore) DeleteDetection(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.detections[id]
	if !ok || d.UserID != userID {
		return apperror.NotFound("mem.delete_detection", "Detection not found")
	}
	delete(s.detections, id)
	return nil
}

func (s *memStore) AggregateDetections(ctx context.Context, userID string) (*model.DetectionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aggErr != nil {
		return nil, s.aggErr
	}
	stats := &model.DetectionStats{}
	var sum float64
	for _, d := range s.detections {
		if d.UserID != userID {
			continue
		}
		switch d.Prediction {
		case model.PredictionReal:
			stats.RealCount++
		case model.PredictionDeepfake:
			stats.DeepfakeCount++
		default:
			continue
		}
		stats.Total++
		sum += d.Confidence
	}
	if stats.Total > 0 {
		stats.AverageConfidence = sum / float64(stats.Total)
	}
	return stats, nil
}

func (s *memStore) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return apperror.Conflict("mem.create_user", "User already exists")
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *memStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperror.NotFound("mem.get_user", "User not found")
	}
	return &u, nil
}

func (s *memStore) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == login || u.Email == login {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("mem.find_user_by_login", "User not found")
}

func (s *memStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperror.NotFound("mem.update_password_hash", "User not found")
	}
	u.PasswordHash = hash
	s.users[id] = u
	return nil
}

func (s *memStore) DeleteUser(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return nil, apperror.NotFound("mem.delete_user", "User not found")
	}
	var keys []string
	for detectionID, d := range s.detections {
		if d.UserID == id {
			keys = append(keys, d.Filename)
			delete(s.detections, detectionID)
		}
	}
	delete(s.users, id)
	return keys, nil
}

func (s *memStore) ListUsers(ctx context.Context, offset, limit int) ([]model.User, error) {
	return nil, nil
}

func (s *memStore) addUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = model.User{ID: id, Username: id, Email: id + "@example.com", Active: true}
}

func (s *memStore) detectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.detections)
}

type stubDetector struct {
	result inference.Result
	err    error
	paths  []string
}

func (s *stubDetector) DetectFile(ctx context.Context, path string) (inference.Result, error) {
	s.paths = append(s.paths, path)
	if s.err != nil {
		return inference.Result{}, s.err
	}
	return s.result, nil
}

type stubCache struct {
	mu      sync.Mutex
	values  map[string]string
	getErrs []error
	setErrs []error
	delErrs []error
	setKeys []string
	delKeys []string
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		return err
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		return "", err
	}
	value, ok := s.values[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return value, nil
}

func (s *stubCache) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delKeys = append(s.delKeys, keys...)
	if len(s.delErrs) > 0 {
		err := s.delErrs[0]
		s.delErrs = s.delErrs[1:]
		return err
	}
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func newTestFiles(t *testing.T) *filestore.FileStore {
	t.Helper()
	fs, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return fs
}

func storedFiles(t *testing.T, fs *filestore.FileStore) []string {
	t.Helper()
	entries, err := os.ReadDir(fs.Dir())
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
