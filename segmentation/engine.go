package segmentation

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// modelRunner is one loaded model execution context. Implementations are not
// assumed safe for concurrent use; Engine serializes every call.
type modelRunner interface {
	run(input *Tensor) (*OutputTensor, error)
	destroy() error
}

// EngineOptions configure the backing ONNX Runtime session.
type EngineOptions struct {
	InputName      string
	OutputName     string
	IntraOpThreads int
}

// Engine owns the loaded model and enforces single-flight execution: one
// mutex guards both invocation and load/reload, so at most one inference runs
// system-wide and a reload replaces the handle atomically between calls.
//
// The caller must have initialized the ONNX Runtime environment
// (ort.SetSharedLibraryPath + ort.InitializeEnvironment) before Load.
type Engine struct {
	mu        sync.Mutex
	runner    modelRunner
	newRunner func(model []byte) (modelRunner, error)
	log       *logrus.Entry
}

// NewEngine creates an engine backed by ONNX Runtime. No model is loaded yet.
func NewEngine(opts EngineOptions, log *logrus.Entry) *Engine {
	return &Engine{
		newRunner: func(model []byte) (modelRunner, error) {
			return newOrtRunner(model, opts)
		},
		log: log,
	}
}

// Load replaces the current model with one built from the given bytes. The
// previous handle, if any, is destroyed under the same lock that guards
// Infer, so in-flight calls complete against the old handle first.
func (e *Engine) Load(model []byte) error {
	runner, err := e.newRunner(model)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runner != nil {
		if derr := e.runner.destroy(); derr != nil {
			e.log.WithError(derr).Warn("destroying previous model handle")
		}
	}
	e.runner = runner
	return nil
}

// Loaded reports whether a model handle is currently live.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runner != nil
}

// Infer runs the model on the given input tensor and returns a copy of the
// output. Native runtime values never escape this call.
func (e *Engine) Infer(input *Tensor) (*OutputTensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runner == nil {
		return nil, fmt.Errorf("%w: no model loaded", ErrInference)
	}
	out, err := e.runner.run(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return out, nil
}

// Close releases the model handle. The engine may be loaded again afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runner == nil {
		return nil
	}
	err := e.runner.destroy()
	e.runner = nil
	return err
}

type ortRunner struct {
	session *ort.DynamicAdvancedSession
}

func newOrtRunner(model []byte, opts EngineOptions) (modelRunner, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		options.SetIntraOpNumThreads(opts.IntraOpThreads)
		options.SetInterOpNumThreads(opts.IntraOpThreads)
	}

	// A dynamic session: the output shape and element type are only known at
	// run time (float32 scores or int64 labels, rank 3 or 4).
	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &ortRunner{session: session}, nil
}

func (r *ortRunner) run(input *Tensor) (*OutputTensor, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := r.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}
	out := outputs[0]
	if out == nil {
		return nil, fmt.Errorf("session returned no output")
	}
	defer out.Destroy()

	switch v := out.(type) {
	case *ort.Tensor[float32]:
		data := v.GetData()
		floats := make([]float32, len(data))
		copy(floats, data)
		return &OutputTensor{Shape: append([]int64(nil), v.GetShape()...), Floats: floats}, nil
	case *ort.Tensor[int64]:
		data := v.GetData()
		ints := make([]int64, len(data))
		copy(ints, data)
		return &OutputTensor{Shape: append([]int64(nil), v.GetShape()...), Ints: ints}, nil
	default:
		return nil, fmt.Errorf("unsupported output tensor element type %T", out)
	}
}

func (r *ortRunner) destroy() error {
	return r.session.Destroy()
}
