package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Equal(t, "input", cfg.ModelInputName)
	assert.Equal(t, "output", cfg.ModelOutputName)
	assert.Equal(t, 256, cfg.InputWidth)
	assert.Equal(t, 256, cfg.InputHeight)
	assert.Equal(t, 1.0, cfg.OverlayOpacity)
	assert.Equal(t, 3, cfg.LoadRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.LoadRetryDelay)
	assert.Equal(t, 10, cfg.FlushEvery)
	assert.False(t, cfg.Debug)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ADDR", "0.0.0.0:9000")
	t.Setenv("MODEL_PATH", "/opt/models/custom.onnx")
	t.Setenv("MODEL_INPUT_WIDTH", "128")
	t.Setenv("OVERLAY_OPACITY", "0.75")
	t.Setenv("MODEL_LOAD_RETRY_DELAY_MS", "250")
	t.Setenv("DEBUG", "true")

	cfg := Load()

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "/opt/models/custom.onnx", cfg.ModelPath)
	assert.Equal(t, 128, cfg.InputWidth)
	assert.Equal(t, 0.75, cfg.OverlayOpacity)
	assert.Equal(t, 250*time.Millisecond, cfg.LoadRetryDelay)
	assert.True(t, cfg.Debug)
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	t.Setenv("MODEL_INPUT_WIDTH", "not-a-number")
	t.Setenv("OVERLAY_OPACITY", "opaque")

	cfg := Load()

	assert.Equal(t, 256, cfg.InputWidth)
	assert.Equal(t, 1.0, cfg.OverlayOpacity)
}
