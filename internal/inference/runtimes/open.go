// Package runtimes adapts ONNX Runtime and TensorFlow Lite to inference.Model.
package runtimes

import (
	"fmt"

	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/imaging"
	"github.com/example/deepfake-detector/internal/inference"
	"github.com/example/deepfake-detector/internal/model"
)

// Opener returns the loader for the configured runtime.
func Opener(cfg config.ModelConfig) inference.Opener {
	return func() (inference.Model, error) {
		switch cfg.Runtime {
		case config.RuntimeONNX:
			m, err := OpenONNX(ONNXOptions{
				Path:          cfg.Path,
				SharedLibrary: cfg.SharedLibrary,
				InputName:     cfg.InputName,
				OutputName:    cfg.OutputName,
				InputShape:    InputShape(cfg),
				NumClasses:    len(cfg.Labels),
				Threads:       cfg.Threads,
			})
			if err != nil {
				return nil, err
			}
			return m, nil
		case config.RuntimeTFLite:
			m, err := OpenTFLite(cfg.Path, cfg.Threads)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil, fmt.Errorf("unsupported model runtime %q", cfg.Runtime)
	}
}

// InputShape is the batch-of-one tensor shape for the configured layout.
func InputShape(cfg config.ModelConfig) []int64 {
	s := int64(cfg.InputSize)
	if cfg.Layout == "NHWC" {
		return []int64{1, s, s, 3}
	}
	return []int64{1, 3, s, s}
}

// EngineOptions translates the model settings into engine options.
func EngineOptions(cfg config.ModelConfig) inference.Options {
	img := imaging.Options{
		Size:         cfg.InputSize,
		ChannelOrder: imaging.ChannelOrder(cfg.ChannelOrder),
		Layout:       imaging.Layout(cfg.Layout),
		MaxPixels:    cfg.MaxPixels,
	}
	for i := 0; i < 3 && i < len(cfg.Mean) && i < len(cfg.Std); i++ {
		img.Mean[i] = float32(cfg.Mean[i])
		img.Std[i] = float32(cfg.Std[i])
	}
	var labels [2]model.Prediction
	for i := 0; i < 2 && i < len(cfg.Labels); i++ {
		labels[i] = model.Prediction(cfg.Labels[i])
	}
	return inference.Options{
		Image:   img,
		Labels:  labels,
		Workers: cfg.Workers,
		Timeout: cfg.Timeout,
	}
}
