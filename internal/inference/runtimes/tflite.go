package runtimes

import (
	"errors"
	"fmt"
	"os"

	"github.com/tphakala/go-tflite"
)

// TFLiteModel wraps a TensorFlow Lite interpreter with allocated tensors.
type TFLiteModel struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
}

// OpenTFLite loads a .tflite file and allocates its tensors.
func OpenTFLite(path string, threads int) (*TFLiteModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model %s", path)
	}

	if threads < 1 {
		threads = 1
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New("tensor allocation failed")
	}

	return &TFLiteModel{model: model, options: options, interpreter: interpreter}, nil
}

// Run fills input tensor 0, invokes the interpreter and returns output tensor 0.
func (m *TFLiteModel) Run(input []float32) ([]float32, error) {
	in := m.interpreter.GetInputTensor(0)
	if in == nil {
		return nil, errors.New("cannot get input tensor")
	}
	dst := in.Float32s()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := m.interpreter.GetOutputTensor(0)
	if out == nil {
		return nil, errors.New("cannot get output tensor")
	}
	logits := make([]float32, out.Dim(out.NumDims()-1))
	copy(logits, out.Float32s())
	return logits, nil
}

// Close frees the interpreter, its options and the model.
func (m *TFLiteModel) Close() error {
	m.interpreter.Delete()
	m.options.Delete()
	m.model.Delete()
	return nil
}
