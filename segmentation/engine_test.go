package segmentation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serialRunner records the maximum number of concurrent run calls so tests
// can prove the engine never lets two inferences interleave.
type serialRunner struct {
	inFlight  int32
	maxSeen   int32
	runs      int32
	destroyed bool
	output    *OutputTensor
}

func (r *serialRunner) run(*Tensor) (*OutputTensor, error) {
	n := atomic.AddInt32(&r.inFlight, 1)
	for {
		max := atomic.LoadInt32(&r.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&r.maxSeen, max, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	atomic.AddInt32(&r.inFlight, -1)
	atomic.AddInt32(&r.runs, 1)
	return r.output, nil
}

func (r *serialRunner) destroy() error {
	r.destroyed = true
	return nil
}

func backgroundOutput(w, h int) *OutputTensor {
	return &OutputTensor{
		Shape: []int64{1, int64(h), int64(w)},
		Ints:  make([]int64, w*h),
	}
}

func TestEngineSerializesInference(t *testing.T) {
	runner := &serialRunner{output: backgroundOutput(4, 4)}
	engine := &Engine{runner: runner, log: testLog()}
	input := &Tensor{Data: make([]float32, 16), Shape: []int64{1, 1, 4, 4}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Infer(input)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), atomic.LoadInt32(&runner.runs))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.maxSeen), "inference calls must be fully serialized")
}

func TestEngineInferWithoutModel(t *testing.T) {
	engine := &Engine{log: testLog()}
	_, err := engine.Infer(&Tensor{Data: []float32{0}, Shape: []int64{1, 1, 1, 1}})
	assert.ErrorIs(t, err, ErrInference)
}

func TestEngineLoadFailure(t *testing.T) {
	engine := &Engine{
		newRunner: func([]byte) (modelRunner, error) {
			return nil, errors.New("bad model format")
		},
		log: testLog(),
	}
	err := engine.Load([]byte("junk"))
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.False(t, engine.Loaded())
}

func TestEngineReloadReplacesHandle(t *testing.T) {
	first := &serialRunner{output: backgroundOutput(2, 2)}
	second := &serialRunner{output: backgroundOutput(2, 2)}
	runners := []*serialRunner{first, second}
	i := 0

	engine := &Engine{
		newRunner: func([]byte) (modelRunner, error) {
			r := runners[i]
			i++
			return r, nil
		},
		log: testLog(),
	}

	require.NoError(t, engine.Load(nil))
	require.NoError(t, engine.Load(nil))

	assert.True(t, first.destroyed, "previous handle must be released on reload")
	assert.False(t, second.destroyed)
	assert.True(t, engine.Loaded())

	require.NoError(t, engine.Close())
	assert.True(t, second.destroyed)
	assert.False(t, engine.Loaded())
}

func TestEngineLoadFailureKeepsOldHandle(t *testing.T) {
	running := &serialRunner{output: backgroundOutput(2, 2)}
	calls := 0
	engine := &Engine{
		newRunner: func([]byte) (modelRunner, error) {
			calls++
			if calls == 1 {
				return running, nil
			}
			return nil, errors.New("runtime rejected model")
		},
		log: testLog(),
	}

	require.NoError(t, engine.Load(nil))
	assert.Error(t, engine.Load(nil))

	assert.False(t, running.destroyed, "failed reload must not tear down the live handle")
	_, err := engine.Infer(&Tensor{Data: make([]float32, 4), Shape: []int64{1, 1, 2, 2}})
	assert.NoError(t, err)
}
