package runtimes

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit sync.Mutex

// ONNXOptions describe an exported ONNX classifier.
type ONNXOptions struct {
	Path          string
	SharedLibrary string
	InputName     string
	OutputName    string
	InputShape    []int64
	NumClasses    int
	Threads       int
}

// ONNXModel wraps an AdvancedSession with pre-allocated tensors. A session
// owns its tensors, so Run must not be called concurrently.
type ONNXModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// OpenONNX initializes the runtime environment on first use and creates a session.
func OpenONNX(opts ONNXOptions) (*ONNXModel, error) {
	if err := initEnvironment(opts.SharedLibrary); err != nil {
		return nil, err
	}

	size := int64(1)
	for _, d := range opts.InputShape {
		size *= d
	}
	input, err := ort.NewTensor(ort.NewShape(opts.InputShape...), make([]float32, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.NumClasses)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		opts.Path,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", opts.Path, err)
	}

	return &ONNXModel{session: session, input: input, output: output}, nil
}

func initEnvironment(sharedLibrary string) error {
	ortInit.Lock()
	defer ortInit.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if sharedLibrary != "" {
		ort.SetSharedLibraryPath(sharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// Run copies input into the session tensor, runs it and returns a copy of the logits.
func (m *ONNXModel) Run(input []float32) ([]float32, error) {
	dst := m.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)
	if err := m.session.Run(); err != nil {
		return nil, err
	}
	out := m.output.GetData()
	logits := make([]float32, len(out))
	copy(logits, out)
	return logits, nil
}

// Close destroys the session and its tensors.
func (m *ONNXModel) Close() error {
	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	return err
}
