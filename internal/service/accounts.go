package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/auth"
	"github.com/example/deepfake-detector/internal/logging"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

// TokenIssuer mints bearer tokens for a user id.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// Registration is the input to Register.
type Registration struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// PasswordChange is the input to ChangePassword.
type PasswordChange struct {
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
}

// Session is the result of a successful login.
type Session struct {
	User      model.User
	Token     string
	ExpiresAt time.Time
}

// AccountService manages users and their credentials.
type AccountService struct {
	users     repository.UserStore
	files     FileRemover
	passwords PasswordHasher
	tokens    TokenIssuer
	cache     *detailCache
	logger    *zap.Logger
	now       func() time.Time
}

// NewAccountService constructs an AccountService. cache may be nil.
func NewAccountService(users repository.UserStore, files FileRemover, passwords PasswordHasher, tokens TokenIssuer, cache Cache, logger *zap.Logger) *AccountService {
	logger = logger.Named("accounts")
	return &AccountService{
		users:     users,
		files:     files,
		passwords: passwords,
		tokens:    tokens,
		cache:     newDetailCache(cache, 0, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates an active account.
func (s *AccountService) Register(ctx context.Context, in Registration) (*model.User, error) {
	const op = "accounts.register"
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if err := auth.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := auth.ValidateEmail(email); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, apperror.ValidationField(op, "password", "Password is required")
	}
	if in.Password != in.ConfirmPassword {
		return nil, apperror.ValidationField(op, "confirm_password", "Passwords do not match")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if taken, err := s.loginTaken(ctx, username, func(u *model.User) bool { return u.Username == username }); err != nil {
		return nil, err
	} else if taken {
		return nil, apperror.Conflict(op, "Username already exists")
	}
	if taken, err := s.loginTaken(ctx, email, func(u *model.User) bool { return u.Email == email }); err != nil {
		return nil, err
	} else if taken {
		return nil, apperror.Conflict(op, "Email already registered")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := model.Timestamp(s.now())
	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	logging.WithOperation(s.logger, op, user.ID).Info("user registered", zap.String("username", username))
	return user, nil
}

func (s *AccountService) loginTaken(ctx context.Context, login string, match func(*model.User) bool) (bool, error) {
	u, err := s.users.FindUserByLogin(ctx, login)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return match(u), nil
}

// Login authenticates by username or email and issues a token.
func (s *AccountService) Login(ctx context.Context, login, password string) (*Session, error) {
	const op = "accounts.login"
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperror.Validation(op, "Username/Email and password required")
	}

	user, err := s.users.FindUserByLogin(ctx, login)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Auth(op, "Invalid username or password")
	}
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(op, user, password, "Invalid username or password"); err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, apperror.Forbidden(op, "Account is disabled")
	}

	token, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperror.Internal(op, err)
	}
	logging.WithOperation(s.logger, op, user.ID).Info("user logged in")
	return &Session{User: *user, Token: token, ExpiresAt: expires}, nil
}

// Me returns the account for userID.
func (s *AccountService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Auth("accounts.me", "Authentication required")
	}
	return user, err
}

// ChangePassword replaces the password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, userID string, in PasswordChange) error {
	const op = "accounts.change_password"
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.checkPassword(op, user, in.OldPassword, "Current password is incorrect"); err != nil {
		return err
	}
	if in.NewPassword != in.ConfirmPassword {
		return apperror.ValidationField(op, "confirm_password", "New passwords do not match")
	}
	if err := auth.ValidatePassword(in.NewPassword); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	logging.WithOperation(s.logger, op, userID).Info("password changed")
	return nil
}

// DeleteAccount removes the user, its detections and their files.
func (s *AccountService) DeleteAccount(ctx context.Context, userID, password string) error {
	const op = "accounts.delete"
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.checkPassword(op, user, password, "Password is incorrect"); err != nil {
		return err
	}

	keys, err := s.users.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}

	opLogger := logging.WithOperation(s.logger, op, userID)
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := s.files.Delete(key); err != nil {
			opLogger.Error("failed to remove detection file", zap.String("filename", key), zap.Error(err))
		}
		if id, _, ok := strings.Cut(key, "."); ok {
			ids = append(ids, id)
		}
	}
	s.cache.evict(ctx, ids...)
	opLogger.Info("account deleted", zap.Int("detections", len(keys)))
	return nil
}

func (s *AccountService) checkPassword(op string, user *model.User, password, message string) error {
	err := s.passwords.Verify(user.PasswordHash, password)
	if errors.Is(err, auth.ErrPasswordMismatch) {
		return apperror.Auth(op, message)
	}
	if err != nil {
		return apperror.Internal(op, err)
	}
	return nil
}
