package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonoview/segmentation-service/config"
	"github.com/sonoview/segmentation-service/display"
	"github.com/sonoview/segmentation-service/segmentation"
	"github.com/sonoview/segmentation-service/stream"
	"github.com/sonoview/segmentation-service/timing"
)

// stubEngine predicts a single foreground region covering the whole frame.
type stubEngine struct{ loads int }

func (e *stubEngine) Load([]byte) error { e.loads++; return nil }

func (e *stubEngine) Infer(*segmentation.Tensor) (*segmentation.OutputTensor, error) {
	labels := make([]int64, 64*64)
	for i := range labels {
		labels[i] = 1
	}
	return &segmentation.OutputTensor{Shape: []int64{1, 64, 64}, Ints: labels}, nil
}

func (e *stubEngine) Close() error { return nil }

func newTestServer(t *testing.T) *server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	modelPath := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("stub"), 0o644))

	recorder := timing.NewRecorder(1000, nil, entry)
	pipeline := segmentation.NewPipeline(segmentation.PipelineConfig{
		ModelPath:      modelPath,
		InputWidth:     64,
		InputHeight:    64,
		OverlayOpacity: 1.0,
		LoadRetries:    1,
		LoadRetryDelay: time.Millisecond,
	}, &stubEngine{}, recorder, nil, entry)

	return &server{
		cfg:      &config.Config{},
		pipeline: pipeline,
		recorder: recorder,
		feed:     stream.NewFeed(),
		hub:      display.NewHub(entry),
		log:      entry,
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 5), B: 40, A: 255})
		}
	}
	return img
}

func TestProcessRawBody(t *testing.T) {
	srv := newTestServer(t)
	body := encodePNG(t, testImage(40, 30))

	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	out, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 40, out.Bounds().Dx())
	assert.Equal(t, 30, out.Bounds().Dy())
}

func TestProcessJSONPayload(t *testing.T) {
	srv := newTestServer(t)
	payload, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(encodePNG(t, testImage(20, 20))),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessMultipartPayload(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "frame.png")
	require.NoError(t, err)
	_, err = part.Write(encodePNG(t, testImage(24, 24)))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/process", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessRejectsGarbage(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader([]byte("not an image")))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid_image", resp.Code)
}

func TestIngestPublishesToFeed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(encodePNG(t, testImage(16, 16))))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uint64(1), srv.feed.Published())

	raw, ok := srv.feed.Next()
	require.True(t, ok)
	assert.Equal(t, segmentation.FormatCompressed, raw.Format)
}

func TestIngestRawFrameHeaders(t *testing.T) {
	srv := newTestServer(t)

	data := make([]byte, 8*8*4)
	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(data))
	req.Header.Set("X-Frame-Format", "raw")
	req.Header.Set("X-Frame-Width", "8")
	req.Header.Set("X-Frame-Height", "8")
	req.Header.Set("X-Frame-Timestamp", "1767225600000")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	raw, ok := srv.feed.Next()
	require.True(t, ok)
	assert.Equal(t, segmentation.FormatUncompressed, raw.Format)
	assert.Equal(t, 8, raw.Width)
	assert.Equal(t, time.UnixMilli(1767225600000), raw.Timestamp)
}

func TestIngestRawFrameNeedsDimensions(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(make([]byte, 64)))
	req.Header.Set("X-Frame-Format", "raw")
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRejectsEmptyBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Run one frame through so the counters are non-trivial.
	procReq := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(encodePNG(t, testImage(16, 16))))
	srv.routes().ServeHTTP(httptest.NewRecorder(), procReq)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var metrics map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&metrics))
	assert.Equal(t, "ready", metrics["pipeline_state"])
	assert.Equal(t, float64(1), metrics["frames_processed"])
	assert.Equal(t, float64(1), metrics["samples_recorded"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "unloaded", health["state"])
}

func TestEncodeForDisplay(t *testing.T) {
	frame := &segmentation.Frame{Image: testImage(10, 10), Timestamp: time.Now()}
	data, err := encodeForDisplay(frame)
	require.NoError(t, err)
	// JPEG SOI marker.
	require.True(t, len(data) > 2)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}
