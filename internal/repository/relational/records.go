package relational

import (
	"time"

	"github.com/example/deepfake-detector/internal/model"
)

type userRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Username     string    `gorm:"column:username;size:80;uniqueIndex;not null"`
	Email        string    `gorm:"column:email;size:120;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	Active       bool      `gorm:"column:is_active;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

type detectionRecord struct {
	ID               string    `gorm:"primaryKey;size:36"`
	UserID           string    `gorm:"column:user_id;size:36;not null;index:idx_detections_user_created,priority:1"`
	Filename         string    `gorm:"column:filename;size:255;not null"`
	OriginalFilename string    `gorm:"column:original_filename;size:255;not null"`
	Prediction       string    `gorm:"column:prediction;size:20;not null"`
	Confidence       float64   `gorm:"column:confidence;type:double precision;not null"`
	ProcessingTime   *float64  `gorm:"column:processing_time;type:double precision"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index:idx_detections_user_created,priority:2"`

	// Owner only declares the foreign key; it is never loaded or saved.
	Owner userRecord `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (detectionRecord) TableName() string {
	return "detections"
}

func userFromModel(u *model.User) userRecord {
	return userRecord{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Active:       u.Active,
		CreatedAt:    model.Timestamp(u.CreatedAt),
		UpdatedAt:    model.Timestamp(u.UpdatedAt),
	}
}

func (r userRecord) toModel() model.User {
	return model.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Active:       r.Active,
		CreatedAt:    model.Timestamp(r.CreatedAt),
		UpdatedAt:    model.Timestamp(r.UpdatedAt),
	}
}

func detectionFromModel(d *model.Detection) detectionRecord {
	return detectionRecord{
		ID:               d.ID,
		UserID:           d.UserID,
		Filename:         d.Filename,
		OriginalFilename: d.OriginalFilename,
		Prediction:       string(d.Prediction),
		Confidence:       d.Confidence,
		ProcessingTime:   d.ProcessingTime,
		CreatedAt:        model.Timestamp(d.CreatedAt),
	}
}

func (r detectionRecord) toModel() model.Detection {
	return model.Detection{
		ID:               r.ID,
		UserID:           r.UserID,
		Filename:         r.Filename,
		OriginalFilename: r.OriginalFilename,
		Prediction:       model.Prediction(r.Prediction),
		Confidence:       r.Confidence,
		ProcessingTime:   r.ProcessingTime,
		CreatedAt:        model.Timestamp(r.CreatedAt),
	}
}
