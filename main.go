package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sonoview/segmentation-service/config"
	"github.com/sonoview/segmentation-service/display"
	"github.com/sonoview/segmentation-service/logging"
	"github.com/sonoview/segmentation-service/segmentation"
	"github.com/sonoview/segmentation-service/stream"
	"github.com/sonoview/segmentation-service/timing"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogDir, cfg.Debug)
	log := logger.WithField("component", "main")

	// ONNX Runtime environment is process-wide and must be up before the
	// first lazy model load.
	ort.SetSharedLibraryPath(cfg.OrtLibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.WithError(err).Fatal("initializing ONNX runtime environment")
	}
	defer ort.DestroyEnvironment()

	var sink timing.Sink
	if writer, err := timing.NewReportWriter(cfg.ReportDir, cfg.ModelPath); err != nil {
		// Reports are best-effort: run without persistence rather than die.
		log.WithError(err).Error("timing reports disabled")
	} else {
		sink = writer
	}
	recorder := timing.NewRecorder(cfg.FlushEvery, sink, logger.WithField("component", "timing"))

	engine := segmentation.NewEngine(segmentation.EngineOptions{
		InputName:  cfg.ModelInputName,
		OutputName: cfg.ModelOutputName,
	}, logger.WithField("component", "engine"))

	pipeline := segmentation.NewPipeline(segmentation.PipelineConfig{
		ModelPath:      cfg.ModelPath,
		InputWidth:     cfg.InputWidth,
		InputHeight:    cfg.InputHeight,
		OverlayOpacity: cfg.OverlayOpacity,
		LoadRetries:    cfg.LoadRetries,
		LoadRetryDelay: cfg.LoadRetryDelay,
	}, engine, recorder, nil, logger.WithField("component", "pipeline"))

	feed := stream.NewFeed()
	hub := display.NewHub(logger.WithField("component", "display"))

	srv := &server{
		cfg:      cfg,
		pipeline: pipeline,
		recorder: recorder,
		feed:     feed,
		hub:      hub,
		log:      logger.WithField("component", "http"),
	}

	// Single worker: frames run strictly serially, the feed drops stale
	// ones, and viewers are fed without ever blocking this loop.
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		workerLog := logger.WithField("component", "worker")
		for {
			raw, ok := feed.Next()
			if !ok {
				return
			}
			frame, err := pipeline.Process(raw)
			if err != nil {
				workerLog.WithError(err).Warn("dropping malformed frame")
				continue
			}
			encoded, err := encodeForDisplay(frame)
			if err != nil {
				workerLog.WithError(err).Error("encoding frame for display")
				continue
			}
			hub.Broadcast(encoded)
		}
	}()

	httpServer := &http.Server{
		Handler:      srv.routes(),
		Addr:         cfg.Addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}

	feed.Close()
	workers.Wait()
	hub.Close()
	if err := pipeline.Close(); err != nil {
		log.WithError(err).Warn("closing pipeline")
	}
}
