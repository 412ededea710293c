// Package inference runs the deepfake classifier: preprocessing, a bounded
// pool of detections, a serialized forward pass and softmax scoring.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/deepfake-detector/internal/apperror"
	"github.com/example/deepfake-detector/internal/imaging"
	"github.com/example/deepfake-detector/internal/metrics"
	"github.com/example/deepfake-detector/internal/model"
)

// Model is a loaded classifier. Run is not required to be safe for
// concurrent use; the engine serializes calls.
type Model interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Opener loads a Model.
type Opener func() (Model, error)

// State is the engine lifecycle stage.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options configure an Engine.
type Options struct {
	Image imaging.Options
	// Labels maps output index to verdict.
	Labels  [2]model.Prediction
	Workers int
	Timeout time.Duration
}

// Result is the verdict for one image.
type Result struct {
	Prediction model.Prediction
	Confidence float64
	// Elapsed covers decode, preprocessing and the forward pass.
	Elapsed time.Duration
}

// BatchResult is one entry of DetectBatch. Failed items carry
// PredictionError and zero confidence.
type BatchResult struct {
	Prediction model.Prediction
	Confidence float64
	Err        error
}

// Engine is safe for concurrent use once Ready.
type Engine struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	state atomic.Int32
	sem   *semaphore.Weighted

	mu    sync.Mutex // guards model.Run
	model Model
}

// NewEngine returns an engine in StateUninitialized.
func NewEngine(opts Options, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Labels == ([2]model.Prediction{}) {
		opts.Labels = [2]model.Prediction{model.PredictionReal, model.PredictionDeepfake}
	}
	return &Engine{
		opts:    opts,
		logger:  logger.Named("inference"),
		metrics: m,
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// State reports the lifecycle stage.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Ready reports whether detections can run.
func (e *Engine) Ready() bool {
	return e.State() == StateReady
}

// Load opens the model and checks it with a warm-up pass. It may only be
// called once; a failure leaves the engine in StateFailed.
func (e *Engine) Load(ctx context.Context, open Opener) error {
	if !e.state.CompareAndSwap(int32(StateUninitialized), int32(StateLoading)) {
		return fmt.Errorf("inference: load called in state %s", e.State())
	}
	start := time.Now()

	err := e.load(ctx, open)
	if err != nil {
		e.state.Store(int32(StateFailed))
		e.metrics.SetModelLoaded(false)
		e.logger.Error("model load failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}

	e.state.Store(int32(StateReady))
	e.metrics.SetModelLoaded(true)
	e.logger.Info("model ready",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("workers", e.opts.Workers),
		zap.Int("input_size", e.opts.Image.Size))
	return nil
}

func (e *Engine) load(ctx context.Context, open Opener) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := open()
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}
	if m == nil {
		return errors.New("open model: opener returned nil model")
	}

	logits, err := m.Run(make([]float32, e.opts.Image.TensorLen()))
	if err == nil && len(logits) != len(e.opts.Labels) {
		err = fmt.Errorf("model returned %d outputs, want %d", len(logits), len(e.opts.Labels))
	}
	if err != nil {
		_ = m.Close()
		return fmt.Errorf("warm up model: %w", err)
	}

	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
	return nil
}

// Close releases the model. Detections fail with Unavailable afterwards.
func (e *Engine) Close() error {
	prev := State(e.state.Swap(int32(StateClosed)))
	e.metrics.SetModelLoaded(false)
	if prev != StateReady {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

// Detect classifies an encoded image.
func (e *Engine) Detect(ctx context.Context, data []byte) (Result, error) {
	const op = "inference.detect"
	if !e.Ready() {
		err := apperror.Unavailable(op, fmt.Sprintf("Model not ready (%s)", e.State()))
		e.metrics.RecordInference("", 0, err)
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		err = e.contextError(op, ctx)
		e.metrics.RecordInference("", 0, err)
		return Result{}, err
	}
	e.metrics.InFlight(1)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer e.sem.Release(1)
		defer e.metrics.InFlight(-1)
		res, err := e.classify(op, data)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		e.metrics.RecordInference(string(out.res.Prediction), out.res.Elapsed, out.err)
		return out.res, out.err
	case <-ctx.Done():
		err := e.contextError(op, ctx)
		e.metrics.RecordInference("", 0, err)
		e.logger.Warn("detection abandoned", zap.Error(err), zap.Duration("timeout", e.opts.Timeout))
		return Result{}, err
	}
}

// DetectFile reads path and classifies it. File I/O is not counted in Elapsed.
func (e *Engine) DetectFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, apperror.IO("inference.detect_file", err)
	}
	return e.Detect(ctx, data)
}

// DetectBatch classifies inputs in order. A failing item yields an ERROR
// entry and does not affect the others.
func (e *Engine) DetectBatch(ctx context.Context, inputs [][]byte) []BatchResult {
	results := make([]BatchResult, len(inputs))
	var wg sync.WaitGroup
	for i, data := range inputs {
		wg.Add(1)
		go func(i int, data []byte) {
			defer wg.Done()
			res, err := e.Detect(ctx, data)
			if err != nil {
				e.logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
				results[i] = BatchResult{Prediction: model.PredictionError, Confidence: 0, Err: err}
				return
			}
			results[i] = BatchResult{Prediction: res.Prediction, Confidence: res.Confidence}
		}(i, data)
	}
	wg.Wait()
	return results
}

func (e *Engine) classify(op string, data []byte) (Result, error) {
	start := time.Now()

	tensor, err := imaging.Preprocess(data, e.opts.Image)
	if err != nil {
		return Result{}, err
	}

	logits, err := e.forward(tensor)
	if err != nil {
		return Result{}, apperror.Inference(op, err)
	}
	if len(logits) != len(e.opts.Labels) {
		return Result{}, apperror.Inference(op, fmt.Errorf("model returned %d outputs, want %d", len(logits), len(e.opts.Labels)))
	}

	probs := Softmax(logits)
	idx := Argmax(probs)
	return Result{
		Prediction: e.opts.Labels[idx],
		Confidence: probs[idx],
		Elapsed:    time.Since(start),
	}, nil
}

func (e *Engine) forward(tensor []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, errors.New("model released")
	}
	return e.model.Run(tensor)
}

func (e *Engine) contextError(op string, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.InferenceTimeout(op, ctx.Err())
	}
	return apperror.Inference(op, ctx.Err())
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value. Ties resolve to the lowest index.
func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
