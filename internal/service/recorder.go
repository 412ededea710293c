// Package service implements the upload, query and account workflows on top
// of the storage, inference and file layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/filestore"
	"github.com/example/deepfake-detector/internal/inference"
	"github.com/example/deepfake-detector/internal/logging"
	"github.com/example/deepfake-detector/internal/metrics"
	"github.com/example/deepfake-detector/internal/model"
	"github.com/example/deepfake-detector/internal/repository"
)

// Detector classifies a stored image.
type Detector interface {
	DetectFile(ctx context.Context, path string) (inference.Result, error)
}

// FileStore is the subset of filestore.FileStore the services use.
type FileStore interface {
	Save(r io.Reader, key string, maxBytes int64) (int64, error)
	Size(key string) (int64, error)
	Delete(key string) error
	Path(key string) string
}

// UploadPolicy bounds what the recorder accepts.
type UploadPolicy struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// Validate checks filename and declared size (negative when unknown) and
// returns the lower-cased extension.
func (p UploadPolicy) Validate(filename string, size int64) (string, error) {
	const op = "recorder.validate"
	if strings.TrimSpace(filename) == "" {
		return "", apperror.ValidationField(op, "file", "No file selected")
	}
	ext := filestore.Extension(filename)
	if ext == "" || !slices.Contains(p.AllowedExtensions, ext) {
		return "", apperror.ValidationField(op, "file",
			"Invalid file type. Allowed types: "+strings.Join(p.AllowedExtensions, ", "))
	}
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return "", p.TooLarge()
	}
	return ext, nil
}

// TooLarge is the validation error for a payload over MaxBytes.
func (p UploadPolicy) TooLarge() error {
	limit := fmt.Sprintf("%d bytes", p.MaxBytes)
	if p.MaxBytes >= 1<<20 && p.MaxBytes%(1<<20) == 0 {
		limit = fmt.Sprintf("%dMB", p.MaxBytes>>20)
	}
	return apperror.ValidationField("recorder.validate", "file", "File too large. Maximum size is "+limit)
}

// Upload is one client file.
type Upload struct {
	Filename string
	// Size is the declared length, or -1 when unknown.
	Size int64
	Body io.Reader
}

// UploadResult is the persisted detection plus the name the client sent.
type UploadResult struct {
	Detection      model.Detection
	ClientFilename string
}

// RecorderOptions are the optional collaborators of a Recorder.
type RecorderOptions struct {
	Policy   UploadPolicy
	Cache    Cache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

// Recorder stores an upload, classifies it and persists the verdict. Any
// failure after the file is written removes the file again.
type Recorder struct {
	store    repository.DetectionStore
	files    FileStore
	detector Detector
	policy   UploadPolicy
	cache    *detailCache
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(store repository.DetectionStore, files FileStore, detector Detector, opts RecorderOptions, logger *zap.Logger) *Recorder {
	logger = logger.Named("recorder")
	return &Recorder{
		store:    store,
		files:    files,
		detector: detector,
		policy:   opts.Policy,
		cache:    newDetailCache(opts.Cache, opts.CacheTTL, logger),
		metrics:  opts.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Policy returns the upload policy in force.
func (r *Recorder) Policy() UploadPolicy {
	return r.policy
}

// Record runs the upload pipeline for userID.
func (r *Recorder) Record(ctx context.Context, userID string, up Upload) (*UploadResult, error) {
	res, err := r.record(ctx, userID, up)
	if err != nil {
		r.metrics.RecordUpload("", err)
		return nil, err
	}
	r.metrics.RecordUpload(string(res.Detection.Prediction), nil)
	return res, nil
}

func (r *Recorder) record(ctx context.Context, userID string, up Upload) (*UploadResult, error) {
	const op = "recorder.record"

	ext, err := r.policy.Validate(up.Filename, up.Size)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := id + "." + ext
	opLogger := logging.WithOperation(r.logger, op, id).With(zap.String("user_id", userID))

	if _, err := r.files.Save(up.Body, key, r.policy.MaxBytes); err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, r.policy.TooLarge()
		}
		opLogger.Error("failed to store upload", zap.Error(err))
		return nil, apperror.IO(op, err)
	}

	cleanup := func(cause error) {
		if err := r.files.Delete(key); err != nil {
			opLogger.Error("failed to remove stored upload", zap.Error(err), zap.NamedError("cause", cause))
		}
	}

	size, err := r.files.Size(key)
	if err == nil && size == 0 {
		err = errors.New("stored file is empty")
	}
	if err != nil {
		cleanup(err)
		opLogger.Error("stored upload failed verification", zap.Error(err))
		return nil, apperror.IO(op, err)
	}

	result, err := r.detector.DetectFile(ctx, r.files.Path(key))
	if err != nil {
		cleanup(err)
		opLogger.Warn("classification failed", zap.Error(err))
		return nil, err
	}
	if !result.Prediction.Valid() {
		err := fmt.Errorf("classifier returned unsupported label %q", result.Prediction)
		cleanup(err)
		opLogger.Error("classification produced an unknown verdict", zap.Error(err))
		return nil, apperror.Inference(op, err)
	}

	elapsed := result.Elapsed.Seconds()
	original := filestore.SecureFilename(up.Filename)
	if original == "" {
		original = key
	}
	d := &model.Detection{
		ID:               id,
		UserID:           userID,
		Filename:         key,
		OriginalFilename: original,
		Prediction:       result.Prediction,
		Confidence:       result.Confidence,
		ProcessingTime:   &elapsed,
		CreatedAt:        model.Timestamp(r.now()),
	}
	if err := r.store.CreateDetection(ctx, d); err != nil {
		cleanup(err)
		opLogger.Error("failed to persist detection", zap.Error(err))
		return nil, err
	}

	r.cache.put(ctx, d)
	opLogger.Info("image classified",
		zap.String("prediction", string(d.Prediction)),
		zap.Float64("confidence", d.Confidence),
		zap.Float64("processing_time", elapsed))

	return &UploadResult{Detection: *d, ClientFilename: up.Filename}, nil
}
