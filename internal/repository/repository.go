// Package repository defines the storage contract shared by the relational
// and document backends.
package repository

import (
	"context"

	"github.com/example/deepfake-detector/internal/model"
)

// DetectionStore persists detections. Every read and delete is scoped to the
// owning user; a record owned by someone else is reported as not found.
type DetectionStore interface {
	CreateDetection(ctx context.Context, d *model.Detection) error
	ListDetections(ctx context.Context, userID string, page, limit int) (*model.DetectionPage, error)
	GetDetection(ctx context.Context, id, userID string) (*model.Detection, error)
	DeleteDetection(ctx context.Context, id, userID string) error
	AggregateDetections(ctx context.Context, userID string) (*model.DetectionStats, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	// FindUserByLogin matches login against username or email.
	FindUserByLogin(ctx context.Context, login string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	// DeleteUser removes the user and its detections and returns the storage
	// keys of the removed detections.
	DeleteUser(ctx context.Context, id string) ([]string, error)
	ListUsers(ctx context.Context, offset, limit int) ([]model.User, error)
}

// Store is the full backend contract.
type Store interface {
	DetectionStore
	UserStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
