package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sonoview/segmentation-service/config"
	"github.com/sonoview/segmentation-service/display"
	"github.com/sonoview/segmentation-service/segmentation"
	"github.com/sonoview/segmentation-service/stream"
	"github.com/sonoview/segmentation-service/timing"
)

const maxFrameBytes = 32 << 20

type server struct {
	cfg      *config.Config
	pipeline *segmentation.Pipeline
	recorder *timing.Recorder
	feed     *stream.Feed
	hub      *display.Hub
	log      *logrus.Entry
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/process", s.handleProcess).Methods("POST")
	r.HandleFunc("/frames", s.handleIngest).Methods("POST")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/stream", s.hub).Methods("GET")
	return r
}

// handleProcess runs one uploaded image through the pipeline synchronously
// and returns the composited frame as PNG.
func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	imgBytes, err := readFramePayload(r)
	if err != nil {
		s.sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	frame, err := s.pipeline.Process(segmentation.RawFrame{
		Data:      imgBytes,
		Format:    segmentation.FormatCompressed,
		Timestamp: time.Now(),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, segmentation.ErrMalformedFrame) {
			status = http.StatusBadRequest
		}
		s.sendError(w, "invalid_image", err.Error(), status)
		return
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"width":      frame.Width(),
		"height":     frame.Height(),
	}).Debug("processed upload")

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, frame.Image); err != nil {
		s.log.WithError(err).Error("encoding response image")
	}
}

// handleIngest is the probe transport boundary: it copies the frame buffer
// out of the request and publishes it to the worker feed without waiting for
// the pipeline.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := parseIngestRequest(r)
	if err != nil {
		s.sendError(w, "invalid_frame", err.Error(), http.StatusBadRequest)
		return
	}

	s.feed.Publish(raw)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"published": s.feed.Published(),
		"dropped":   s.feed.Drops(),
	})
}

func (s *server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.recorder.Snapshot()
	response := map[string]interface{}{
		"pipeline_state":   s.pipeline.State().String(),
		"frames_processed": s.pipeline.FramesProcessed(),
		"model_reloads":    s.pipeline.Reloads(),
		"frames_published": s.feed.Published(),
		"frames_dropped":   s.feed.Drops(),
		"viewers":          s.hub.ViewerCount(),
		"samples_recorded": s.recorder.TotalRecorded(),
		"window":           snapshot,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"state":  s.pipeline.State().String(),
	})
}

func (s *server) sendError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}

func readFramePayload(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFrameBytes)).Decode(&req); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(req.Image)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxFrameBytes); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	default:
		return io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	}
}

// parseIngestRequest builds a RawFrame from probe metadata headers. The body
// is fully read here, so the frame owns its bytes once the handler returns.
func parseIngestRequest(r *http.Request) (segmentation.RawFrame, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		return segmentation.RawFrame{}, err
	}
	if len(data) == 0 {
		return segmentation.RawFrame{}, fmt.Errorf("empty frame body")
	}

	format := segmentation.FormatCompressed
	if r.Header.Get("X-Frame-Format") == "raw" {
		format = segmentation.FormatUncompressed
	}

	width, _ := strconv.Atoi(r.Header.Get("X-Frame-Width"))
	height, _ := strconv.Atoi(r.Header.Get("X-Frame-Height"))
	if format == segmentation.FormatUncompressed && (width <= 0 || height <= 0) {
		return segmentation.RawFrame{}, fmt.Errorf("raw frames require X-Frame-Width and X-Frame-Height")
	}

	timestamp := time.Now()
	if ms, err := strconv.ParseInt(r.Header.Get("X-Frame-Timestamp"), 10, 64); err == nil && ms > 0 {
		timestamp = time.UnixMilli(ms)
	}

	return segmentation.RawFrame{
		Data:      data,
		Format:    format,
		Width:     width,
		Height:    height,
		Size:      len(data),
		Timestamp: timestamp,
	}, nil
}

// encodeForDisplay renders a composited frame for the websocket viewers.
func encodeForDisplay(frame *segmentation.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
