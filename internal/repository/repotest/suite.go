// Package repotest holds the behaviour every repository.Store backend must
// share. Backends run it from their own tests.
package repotest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

// OpenFunc returns an empty store for one subtest.
type OpenFunc func(t *testing.T) repository.Store

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// NewUser builds a user with unique credentials.
func NewUser(name string) *model.User {
	return &model.User{
		ID:           uuid.NewString(),
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "$2a$04$hash",
		Active:       true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

// NewDetection builds a detection owned by userID.
func NewDetection(userID string, pred model.Prediction, conf float64, at time.Time) *model.Detection {
	elapsed := 0.42
	id := uuid.NewString()
	return &model.Detection{
		ID:               id,
		UserID:           userID,
		Filename:         id + ".png",
		OriginalFilename: "face.png",
		Prediction:       pred,
		Confidence:       conf,
		ProcessingTime:   &elapsed,
		CreatedAt:        at,
	}
}

// Run executes the shared behaviour suite.
func Run(t *testing.T, open OpenFunc) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("CreateRequiresOwner", func(t *testing.T) { testCreateRequiresOwner(t, open(t)) })
	t.Run("CreateDuplicateID", func(t *testing.T) { testCreateDuplicateID(t, open(t)) })
	t.Run("ListPaging", func(t *testing.T) { testListPaging(t, open(t)) })
	t.Run("ListOrderTieBreak", func(t *testing.T) { testListOrderTieBreak(t, open(t)) })
	t.Run("ListValidation", func(t *testing.T) { testListValidation(t, open(t)) })
	t.Run("Ownership", func(t *testing.T) { testOwnership(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Aggregate", func(t *testing.T) { testAggregate(t, open(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("DeleteUserCascades", func(t *testing.T) { testDeleteUserCascades(t, open(t)) })
}

func mustCreateUser(t *testing.T, s repository.Store, name string) *model.User {
	t.Helper()
	u := NewUser(name)
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func testCreateAndGet(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "alice")
	d := NewDetection(u.ID, model.PredictionDeepfake, 0.97306, base.Add(1234567*time.Microsecond))
	require.NoError(t, s.CreateDetection(ctx, d))

	got, err := s.GetDetection(ctx, d.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, d.Filename, got.Filename)
	assert.Equal(t, "face.png", got.OriginalFilename)
	assert.Equal(t, model.PredictionDeepfake, got.Prediction)
	assert.InDelta(t, 0.97306, got.Confidence, 1e-12)
	require.NotNil(t, got.ProcessingTime)
	assert.InDelta(t, 0.42, *got.ProcessingTime, 1e-12)
	assert.True(t, model.Timestamp(d.CreatedAt).Equal(got.CreatedAt), "got %s", got.CreatedAt)

	legacy := NewDetection(u.ID, model.PredictionReal, 0.6, base)
	legacy.ProcessingTime = nil
	require.NoError(t, s.CreateDetection(ctx, legacy))
	got, err = s.GetDetection(ctx, legacy.ID, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProcessingTime)
}

func testCreateRequiresOwner(t *testing.T, s repository.Store) {
	err := s.CreateDetection(context.Background(), NewDetection(uuid.NewString(), model.PredictionReal, 0.9, base))
	assert.ErrorIs(t, err, apperror.ErrPersistence)
}

func testCreateDuplicateID(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "bob")
	d := NewDetection(u.ID, model.PredictionReal, 0.9, base)
	require.NoError(t, s.CreateDetection(ctx, d))

	err := s.CreateDetection(ctx, d)
	assert.ErrorIs(t, err, apperror.ErrPersistence)

	page, err := s.ListDetections(ctx, u.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
}

func testListPaging(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "carol")
	for i := 0; i < 25; i++ {
		require.NoError(t, s.CreateDetection(ctx, NewDetection(u.ID, model.PredictionReal, 0.5, base.Add(time.Duration(i)*time.Minute))))
	}

	first, err := s.ListDetections(ctx, u.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 25, first.Total)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, 1, first.CurrentPage)
	require.Len(t, first.Items, 10)
	assert.True(t, first.Items[0].CreatedAt.Equal(base.Add(24*time.Minute)), "newest first")
	for i := 1; i < len(first.Items); i++ {
		assert.True(t, first.Items[i-1].CreatedAt.After(first.Items[i].CreatedAt))
	}

	last, err := s.ListDetections(ctx, u.ID, 3, 10)
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.True(t, last.Items[4].CreatedAt.Equal(base), "oldest last")

	beyond, err := s.ListDetections(ctx, u.ID, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.EqualValues(t, 25, beyond.Total)
	assert.Equal(t, 3, beyond.Pages)

	empty, err := s.ListDetections(ctx, uuid.NewString(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.Zero(t, empty.Pages)
}

func testListOrderTieBreak(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "dave")
	ids := []string{"c-0000", "a-0000", "b-0000"}
	for _, id := range ids {
		d := NewDetection(u.ID, model.PredictionReal, 0.5, base)
		d.ID = id
		d.Filename = id + ".png"
		require.NoError(t, s.CreateDetection(ctx, d))
	}

	page, err := s.ListDetections(ctx, u.ID, 1, 10)
	require.NoError(t, err)
	got := make([]string, 0, len(page.Items))
	for _, d := range page.Items {
		got = append(got, d.ID)
	}
	assert.Equal(t, []string{"a-0000", "b-0000", "c-0000"}, got)
}

func testListValidation(t *testing.T, s repository.Store) {
	ctx := context.Background()
	for _, tc := range [][2]int{{0, 10}, {1, 0}, {1, 101}, {-1, 5}} {
		_, err := s.ListDetections(ctx, "anyone", tc[0], tc[1])
		assert.ErrorIs(t, err, apperror.ErrValidation, fmt.Sprintf("page=%d limit=%d", tc[0], tc[1]))
	}
}

func testOwnership(t *testing.T, s repository.Store) {
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	mallory := mustCreateUser(t, s, "mallory")
	d := NewDetection(alice.ID, model.PredictionDeepfake, 0.8, base)
	require.NoError(t, s.CreateDetection(ctx, d))

	_, err := s.GetDetection(ctx, d.ID, mallory.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDetection(ctx, d.ID, mallory.ID), apperror.ErrNotFound)

	page, err := s.ListDetections(ctx, mallory.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = s.GetDetection(ctx, d.ID, alice.ID)
	assert.NoError(t, err, "record survives a foreign delete attempt")
}

func testDelete(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "erin")
	d := NewDetection(u.ID, model.PredictionReal, 0.7, base)
	require.NoError(t, s.CreateDetection(ctx, d))

	require.NoError(t, s.DeleteDetection(ctx, d.ID, u.ID))
	_, err := s.GetDetection(ctx, d.ID, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDetection(ctx, d.ID, u.ID), apperror.ErrNotFound)
}

func testAggregate(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "frank")

	stats, err := s.AggregateDetections(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DetectionStats{}, *stats)

	for i, conf := range []float64{0.9, 0.8, 0.7} {
		require.NoError(t, s.CreateDetection(ctx, NewDetection(u.ID, model.PredictionReal, conf, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.CreateDetection(ctx, NewDetection(u.ID, model.PredictionDeepfake, 0.95, base.Add(time.Hour))))

	other := mustCreateUser(t, s, "grace")
	require.NoError(t, s.CreateDetection(ctx, NewDetection(other.ID, model.PredictionDeepfake, 0.1, base)))

	stats, err = s.AggregateDetections(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 3, stats.RealCount)
	assert.EqualValues(t, 1, stats.DeepfakeCount)
	assert.InDelta(t, 0.8375, stats.AverageConfidence, 1e-9)
}

func testUsers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "heidi")

	dupName := NewUser("heidi")
	dupName.Email = "other@example.com"
	assert.ErrorIs(t, s.CreateUser(ctx, dupName), apperror.ErrConflict)

	dupEmail := NewUser("heidi2")
	dupEmail.Email = u.Email
	assert.ErrorIs(t, s.CreateUser(ctx, dupEmail), apperror.ErrConflict)

	byName, err := s.FindUserByLogin(ctx, "heidi")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
	byEmail, err := s.FindUserByLogin(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.True(t, byEmail.Active)

	_, err = s.FindUserByLogin(ctx, "nobody")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "$2a$04$new"))
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$new", got.PasswordHash)
	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, uuid.NewString(), "x"), apperror.ErrNotFound)

	second := NewUser("ivan")
	second.CreatedAt = base.Add(time.Minute)
	require.NoError(t, s.CreateUser(ctx, second))
	users, err := s.ListUsers(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, u.ID, users[0].ID)
	assert.Equal(t, second.ID, users[1].ID)

	users, err = s.ListUsers(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, second.ID, users[0].ID)
}

func testDeleteUserCascades(t *testing.T, s repository.Store) {
	ctx := context.Background()
	u := mustCreateUser(t, s, "judy")
	keep := mustCreateUser(t, s, "ken")
	d1 := NewDetection(u.ID, model.PredictionReal, 0.9, base)
	d2 := NewDetection(u.ID, model.PredictionDeepfake, 0.8, base.Add(time.Second))
	kept := NewDetection(keep.ID, model.PredictionReal, 0.9, base)
	for _, d := range []*model.Detection{d1, d2, kept} {
		require.NoError(t, s.CreateDetection(ctx, d))
	}

	keys, err := s.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{d1.Filename, d2.Filename}, keys)

	_, err = s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = s.GetDetection(ctx, d1.ID, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = s.GetDetection(ctx, kept.ID, keep.ID)
	assert.NoError(t, err)

	_, err = s.DeleteUser(ctx, u.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
