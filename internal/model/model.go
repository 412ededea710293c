// Package model holds the domain records shared by storage, services and the
// HTTP layer.
package model

import (
	"math"
	"time"
)

// Prediction is the verdict attached to a classified image.
type Prediction string

const (
	PredictionReal     Prediction = "REAL"
	PredictionDeepfake Prediction = "DEEPFAKE"
	// PredictionError marks a failed item in a batch run. It is never persisted.
	PredictionError Prediction = "ERROR"
)

// Valid reports whether p may be stored on a Detection.
func (p Prediction) Valid() bool {
	return p == PredictionReal || p == PredictionDeepfake
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// User owns detections. Deleting a user removes its detections.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Detection is an immutable classification record.
type Detection struct {
	ID               string
	UserID           string
	Filename         string
	OriginalFilename string
	Prediction       Prediction
	Confidence       float64
	// ProcessingTime is nil for records written before timing was captured.
	ProcessingTime *float64
	CreatedAt      time.Time
}

// DetectionPage is one page of a user's history.
type DetectionPage struct {
	Items       []Detection
	Total       int64
	Pages       int
	CurrentPage int
}

// DetectionStats aggregates a user's REAL and DEEPFAKE detections.
type DetectionStats struct {
	Total             int64
	RealCount         int64
	DeepfakeCount     int64
	AverageConfidence float64
}

// ValidPage reports whether page and limit are acceptable paging inputs.
func ValidPage(page, limit int) bool {
	return page >= 1 && limit >= 1 && limit <= MaxLimit
}

// PageCount returns ceil(total/limit).
func PageCount(total int64, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Offset returns the number of records skipped before page.
func Offset(page, limit int) int {
	return (page - 1) * limit
}

// Timestamp normalizes t the way both storage backends persist it.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
