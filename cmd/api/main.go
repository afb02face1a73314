package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/visage/internal/api"
	"github.com/your-org/visage/internal/api/handlers"
	"github.com/your-org/visage/internal/api/ws"
	"github.com/your-org/visage/internal/app"
	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/internal/transcript"
	"github.com/your-org/visage/internal/vision"
	"github.com/your-org/visage/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// .env file is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting visage API service",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"index", cfg.Recognition.Index,
		"threshold", cfg.Recognition.Threshold,
		"async", cfg.Server.Async,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg, true)
	if err != nil {
		slog.Error("open record store", "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	go backend.Run(ctx)

	if err := vision.InitRuntime(cfg.Vision.OnnxLibPath); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.DestroyRuntime()

	extractor, err := vision.NewExtractor(cfg.Vision, cfg.Database.EmbeddingDim)
	if err != nil {
		slog.Error("init face extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	routerCfg := api.RouterConfig{
		Engine:        backend.Engine(extractor),
		MaxImageBytes: cfg.Vision.MaxImageBytes,
		Checks:        map[string]handlers.Check{"database": backend.Ping},
	}

	if cfg.Transcript.GeminiAPIKey != "" {
		gemini, err := transcript.NewGeminiExtractor(ctx, cfg.Transcript.GeminiAPIKey, cfg.Transcript.GeminiModel)
		if err != nil {
			slog.Warn("gemini transcript extraction unavailable", "error", err)
		} else {
			routerCfg.Transcripts = gemini
			slog.Info("transcript extraction enabled", "model", gemini.Name())
		}
	}

	if cfg.Server.Async {
		minioStore, producer, consumer, hub := startAsync(ctx, cfg)
		defer producer.Close()
		defer consumer.Close()
		routerCfg.MinIO = minioStore
		routerCfg.Producer = producer
		routerCfg.Hub = hub
		routerCfg.Checks["minio"] = minioStore.Ping
		routerCfg.Checks["nats"] = func(context.Context) error { return producer.Ping() }
	}

	router := api.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// startAsync connects the capture staging bucket and queue, and pushes
// worker results to connected devices.
func startAsync(ctx context.Context, cfg *config.Config) (*storage.MinIOStore, *queue.Producer, *queue.Consumer, *ws.Hub) {
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create result consumer", "error", err)
		os.Exit(1)
	}

	err = consumer.ConsumeResults(ctx, "api-results", func(ctx context.Context, result models.CaptureResult) error {
		hub.BroadcastEvent(dto.NewCaptureResultEvent(result))
		return nil
	})
	if err != nil {
		slog.Warn("start result consumer", "error", err)
	}

	return minioStore, producer, consumer, hub
}
