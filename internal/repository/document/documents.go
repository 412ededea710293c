package document

import (
	"time"

	"github.com/example/deepfake-detector/internal/model"
)

const (
	usersCollection      = "users"
	detectionsCollection = "detections"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Active       bool      `bson:"is_active"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type detectionDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	Filename         string    `bson:"filename"`
	OriginalFilename string    `bson:"original_filename"`
	Prediction       string    `bson:"prediction"`
	Confidence       float64   `bson:"confidence"`
	ProcessingTime   *float64  `bson:"processing_time,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
}

func userDocFromModel(u *model.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Active:       u.Active,
		CreatedAt:    model.Timestamp(u.CreatedAt),
		UpdatedAt:    model.Timestamp(u.UpdatedAt),
	}
}

func (d userDoc) toModel() model.User {
	return model.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Active:       d.Active,
		CreatedAt:    model.Timestamp(d.CreatedAt),
		UpdatedAt:    model.Timestamp(d.UpdatedAt),
	}
}

func detectionDocFromModel(d *model.Detection) detectionDoc {
	return detectionDoc{
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

func (d detectionDoc) toModel() model.Detection {
	return model.Detection{
		ID:               d.ID,
		UserID:           d.UserID,
		Filename:         d.Filename,
		OriginalFilename: d.OriginalFilename,
		Prediction:       model.Prediction(d.Prediction),
		Confidence:       d.Confidence,
		ProcessingTime:   d.ProcessingTime,
		CreatedAt:        model.Timestamp(d.CreatedAt),
	}
}

// statsAccumulator reduces a user's detections the way the relational
// aggregate does: only REAL and DEEPFAKE rows count.
type statsAccumulator struct {
	total, real, deepfake int64
	sum                   float64
}

func (a *statsAccumulator) add(prediction string, confidence float64) {
	switch model.Prediction(prediction) {
	case model.PredictionReal:
		a.real++
	case model.PredictionDeepfake:
		a.deepfake++
	default:
		return
	}
	a.total++
	a.sum += confidence
}

func (a *statsAccumulator) result() *model.DetectionStats {
	stats := &model.DetectionStats{
		Total:         a.total,
		RealCount:     a.real,
		DeepfakeCount: a.deepfake,
	}
	if a.total > 0 {
		stats.AverageConfidence = a.sum / float64(a.total)
	}
	return stats
}

func filenames(docs []detectionDoc) []string {
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, doc.Filename)
	}
	return keys
}
