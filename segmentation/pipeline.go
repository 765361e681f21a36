package segmentation

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sonoview/segmentation-service/timing"
)

// State is the pipeline lifecycle state.
type State int32

const (
	// StateUnloaded: no model yet, first frame will trigger a load.
	StateUnloaded State = iota
	// StateLoading: a load attempt is in progress; frames pass through.
	StateLoading
	// StateReady: model live, frames run the full pipeline.
	StateReady
	// StateDegraded: overlay unavailable or suspect — either the startup load
	// exhausted its retries, or a corruption-triggered reload is in flight.
	StateDegraded
	// StateClosed: shut down, model released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Inferencer is the model execution boundary the pipeline drives. *Engine is
// the production implementation.
type Inferencer interface {
	Load(model []byte) error
	Infer(input *Tensor) (*OutputTensor, error)
	Close() error
}

// PipelineConfig carries the per-instance pipeline settings. All counters and
// toggles live on the Pipeline itself; there is no process-wide state.
type PipelineConfig struct {
	ModelPath      string
	InputWidth     int
	InputHeight    int
	OverlayOpacity float64
	LoadRetries    int
	LoadRetryDelay time.Duration
}

// Pipeline sequences decode, tensor build, inference, mask decode, and
// compositing for each incoming frame, and owns lazy model loading,
// corruption recovery, and shutdown.
//
// Every per-frame failure past decoding degrades to "return the original
// frame": the live display keeps running and the overlay silently disappears.
// Returned frames are always freshly owned by the caller, never an alias of
// the input.
type Pipeline struct {
	cfg      PipelineConfig
	engine   Inferencer
	recorder *timing.Recorder
	check    CorruptionCheck
	log      *logrus.Entry

	mu         sync.Mutex
	state      State
	modelBytes []byte // retained for corruption-triggered reloads
	frames     uint64
	reloads    uint64
}

// NewPipeline wires a pipeline. A nil check installs the default
// all-background heuristic.
func NewPipeline(cfg PipelineConfig, engine Inferencer, recorder *timing.Recorder, check CorruptionCheck, log *logrus.Entry) *Pipeline {
	if cfg.InputWidth <= 0 {
		cfg.InputWidth = DefaultInputWidth
	}
	if cfg.InputHeight <= 0 {
		cfg.InputHeight = DefaultInputHeight
	}
	if cfg.OverlayOpacity <= 0 || cfg.OverlayOpacity > 1 {
		cfg.OverlayOpacity = 1.0
	}
	if cfg.LoadRetries <= 0 {
		cfg.LoadRetries = 1
	}
	if check == nil {
		check = AllBackgroundCheck{}
	}
	return &Pipeline{
		cfg:      cfg,
		engine:   engine,
		recorder: recorder,
		check:    check,
		log:      log,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// FramesProcessed returns how many frames entered the pipeline.
func (p *Pipeline) FramesProcessed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Reloads returns how many corruption-triggered reloads were attempted.
func (p *Pipeline) Reloads() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Process decodes a raw probe buffer and runs it through the pipeline.
// Decoding is the one stage with nothing to fall back to, so a malformed
// buffer surfaces as an error; everything after degrades to the original
// image.
func (p *Pipeline) Process(raw RawFrame) (*Frame, error) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		return nil, err
	}
	return p.ProcessFrame(frame), nil
}

// ProcessFrame runs one decoded frame through the pipeline and returns the
// composited result, or a fresh copy of the input when the overlay cannot be
// produced. It never returns nil and never mutates frame.
func (p *Pipeline) ProcessFrame(frame *Frame) (result *Frame) {
	p.mu.Lock()
	p.frames++
	frameNum := p.frames
	p.mu.Unlock()

	// The stages below are all plain Go, but a panic here would stall the
	// display loop for every future frame. Mirror the error policy instead.
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("frame", frameNum).Errorf("pipeline panic: %v", r)
			result = frame.Clone()
		}
	}()

	if !p.ensureReady() {
		return frame.Clone()
	}

	start := time.Now()
	input := BuildInputTensor(frame.Image, p.cfg.InputWidth, p.cfg.InputHeight)
	prep := time.Since(start)

	inferStart := time.Now()
	output, err := p.engine.Infer(input)
	inference := time.Since(inferStart)
	if err != nil {
		p.log.WithField("frame", frameNum).WithError(err).Error("inference failed")
		return frame.Clone()
	}

	postStart := time.Now()
	labels, err := DecodeLabels(output)
	if err != nil {
		p.log.WithField("frame", frameNum).WithError(err).Error("decoding model output")
		return frame.Clone()
	}

	if p.check.Corrupted(labels) {
		// Heuristic, not proof: a frame legitimately empty of findings trips
		// this too. Reload once and show the plain frame meanwhile.
		p.log.WithField("frame", frameNum).Warn("output flagged as corrupt, reloading model")
		p.reload()
		return frame.Clone()
	}

	mask := RenderMask(labels)
	composited := Overlay(frame, mask, p.cfg.OverlayOpacity)
	post := time.Since(postStart)

	p.recorder.Record(prep, inference, post, time.Since(start))
	return composited
}

// Close releases the model handle and flushes the timing recorder. Further
// frames pass through untouched.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	p.mu.Unlock()

	err := p.engine.Close()
	p.recorder.FinalReport()
	return err
}

// ensureReady reports whether the model is live, triggering the lazy load on
// the first frame. Only one load attempt runs even when frames arrive
// concurrently during the load: later frames see StateLoading and pass
// through rather than blocking.
func (p *Pipeline) ensureReady() bool {
	p.mu.Lock()
	switch p.state {
	case StateReady:
		p.mu.Unlock()
		return true
	case StateLoading, StateDegraded, StateClosed:
		p.mu.Unlock()
		return false
	}
	p.state = StateLoading
	p.mu.Unlock()

	err := p.loadModel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return false
	}
	if err != nil {
		p.log.WithError(err).Error("model load failed, frames will pass through")
		p.state = StateDegraded
		return false
	}
	p.state = StateReady
	return true
}

// loadModel reads the model asset and loads it, retrying with linear backoff
// up to the configured attempt count.
func (p *Pipeline) loadModel() error {
	model, err := os.ReadFile(p.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.LoadRetries; attempt++ {
		if lastErr = p.engine.Load(model); lastErr == nil {
			p.mu.Lock()
			p.modelBytes = model
			p.mu.Unlock()
			p.log.WithFields(logrus.Fields{
				"model": p.cfg.ModelPath,
				"bytes": len(model),
			}).Info("model loaded")
			return nil
		}
		p.log.WithError(lastErr).Warnf("model load attempt %d/%d failed", attempt, p.cfg.LoadRetries)
		if attempt < p.cfg.LoadRetries {
			time.Sleep(time.Duration(attempt) * p.cfg.LoadRetryDelay)
		}
	}
	return lastErr
}

// reload replaces the model handle after a corruption signal. Exactly one
// attempt per trigger; on failure the existing handle stays live and the next
// corrupt frame triggers the next attempt.
func (p *Pipeline) reload() {
	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return
	}
	p.state = StateDegraded
	p.reloads++
	model := p.modelBytes
	p.mu.Unlock()

	err := p.engine.Load(model)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return
	}
	if err != nil {
		p.log.WithError(err).Error("model reload failed, keeping current handle")
	} else {
		p.log.Info("model reloaded")
	}
	p.state = StateReady
}
