package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/auth"
	"github.com/example/deepfake-detector/internal/model"
)

func newTestAccounts(t *testing.T, store *memStore, files FileRemover, cache Cache) (*AccountService, *auth.TokenService) {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return NewAccountService(store, files, auth.NewPasswordService(bcrypt.MinCost), tokens, cache, zap.NewNop()), tokens
}

func register(t *testing.T, svc *AccountService, username, email string) *model.User {
	t.Helper()
	u, err := svc.Register(context.Background(), Registration{
		Username:        username,
		Email:           email,
		Password:        "TestPass123",
		ConfirmPassword: "TestPass123",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		in   Registration
		want string
	}{
		{"short username", Registration{Username: " ab ", Email: "a@example.com", Password: "TestPass123", ConfirmPassword: "TestPass123"}, "Username must be at least 3 characters"},
		{"bad email", Registration{Username: "alice", Email: "alice@", Password: "TestPass123", ConfirmPassword: "TestPass123"}, "Invalid email format"},
		{"missing password", Registration{Username: "alice", Email: "a@example.com"}, "Password is required"},
		{"mismatch", Registration{Username: "alice", Email: "a@example.com", Password: "TestPass123", ConfirmPassword: "TestPass124"}, "Passwords do not match"},
		{"weak", Registration{Username: "alice", Email: "a@example.com", Password: "weak", ConfirmPassword: "weak"}, "Password must be at least 8 characters long"},
		{"no digit", Registration{Username: "alice", Email: "a@example.com", Password: "TestPassword", ConfirmPassword: "TestPassword"}, "Password must contain at least one digit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestAccounts(t, newMemStore(), newTestFiles(t), nil)
			_, err := svc.Register(context.Background(), tt.in)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperror.Message(err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, _ := newTestAccounts(t, newMemStore(), newTestFiles(t), nil)
	u := register(t, svc, "alice", "alice@example.com")
	if !u.Active || u.PasswordHash == "" || u.PasswordHash == "TestPass123" {
		t.Fatalf("unexpected stored user %+v", u)
	}

	_, err := svc.Register(context.Background(), Registration{Username: "alice", Email: "other@example.com", Password: "TestPass123", ConfirmPassword: "TestPass123"})
	if !errors.Is(err, apperror.ErrConflict) || apperror.Message(err) != "Username already exists" {
		t.Fatalf("expected username conflict, got %v", err)
	}
	_, err = svc.Register(context.Background(), Registration{Username: "bob", Email: "alice@example.com", Password: "TestPass123", ConfirmPassword: "TestPass123"})
	if !errors.Is(err, apperror.ErrConflict) || apperror.Message(err) != "Email already registered" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	store := newMemStore()
	svc, tokens := newTestAccounts(t, store, newTestFiles(t), nil)
	u := register(t, svc, "alice", "alice@example.com")

	for _, login := range []string{"alice", "alice@example.com"} {
		session, err := svc.Login(context.Background(), login, "TestPass123")
		if err != nil {
			t.Fatalf("login %s: %v", login, err)
		}
		userID, err := tokens.Validate(session.Token)
		if err != nil || userID != u.ID {
			t.Fatalf("token does not identify user: %s %v", userID, err)
		}
	}

	if _, err := svc.Login(context.Background(), "", "x"); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice", "WrongPass1"); !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "TestPass123"); !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("expected auth error for unknown user, got %v", err)
	}

	disabled := store.users[u.ID]
	disabled.Active = false
	store.users[u.ID] = disabled
	_, err := svc.Login(context.Background(), "alice", "TestPass123")
	if !errors.Is(err, apperror.ErrForbidden) || apperror.Message(err) != "Account is disabled" {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestAccounts(t, newMemStore(), newTestFiles(t), nil)
	u := register(t, svc, "alice", "alice@example.com")
	ctx := context.Background()

	err := svc.ChangePassword(ctx, u.ID, PasswordChange{OldPassword: "nope", NewPassword: "NewPass123", ConfirmPassword: "NewPass123"})
	if !errors.Is(err, apperror.ErrAuth) || apperror.Message(err) != "Current password is incorrect" {
		t.Fatalf("expected auth error, got %v", err)
	}
	err = svc.ChangePassword(ctx, u.ID, PasswordChange{OldPassword: "TestPass123", NewPassword: "NewPass123", ConfirmPassword: "NewPass12"})
	if !errors.Is(err, apperror.ErrValidation) || apperror.Message(err) != "New passwords do not match" {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, PasswordChange{OldPassword: "TestPass123", NewPassword: "NewPass123", ConfirmPassword: "NewPass123"}); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "NewPass123"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "TestPass123"); !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
}

func TestMeForDeletedUser(t *testing.T) {
	svc, _ := newTestAccounts(t, newMemStore(), newTestFiles(t), nil)
	if _, err := svc.Me(context.Background(), "ghost"); !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	store := newMemStore()
	files := newTestFiles(t)
	cache := newStubCache()
	svc, _ := newTestAccounts(t, store, files, cache)
	alice := register(t, svc, "alice", "alice@example.com")
	bob := register(t, svc, "bob", "bob@example.com")

	mine := seedDetection(t, store, files, "det-a", alice.ID, model.PredictionReal, 0.9, time.Now().UTC())
	theirs := seedDetection(t, store, files, "det-b", bob.ID, model.PredictionDeepfake, 0.8, time.Now().UTC())

	if err := svc.DeleteAccount(context.Background(), alice.ID, "wrong"); !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if err := svc.DeleteAccount(context.Background(), alice.ID, "TestPass123"); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	if _, err := store.GetUser(context.Background(), alice.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("user should be gone, got %v", err)
	}
	if files.Exists(mine.Filename) {
		t.Fatal("owned file should be removed")
	}
	if !files.Exists(theirs.Filename) || store.detectionCount() != 1 {
		t.Fatal("other users' data must survive")
	}
	if len(cache.delKeys) != 1 || cache.delKeys[0] != detectionCacheKey("det-a") {
		t.Fatalf("expected cache eviction of det-a, got %v", cache.delKeys)
	}
}
