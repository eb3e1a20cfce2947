package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "github.com/metalalive/transcoder-core/internal/api/http"
	"github.com/metalalive/transcoder-core/internal/app"
	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/hls"
	"github.com/metalalive/transcoder-core/internal/metrics"
	"github.com/metalalive/transcoder-core/internal/processor"
	mongorepo "github.com/metalalive/transcoder-core/internal/repository/mongo"
	"github.com/metalalive/transcoder-core/internal/rpc"
	"github.com/metalalive/transcoder-core/internal/storage/local"
	"github.com/metalalive/transcoder-core/internal/storage/remote"
	"github.com/metalalive/transcoder-core/internal/telemetry"
	"github.com/metalalive/transcoder-core/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "transcoder-worker")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "transcoder-worker"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("amqpExchange", cfg.AMQPExchange),
		slog.String("requestQueue", cfg.AMQPRequestQueue),
		slog.String("sourceAlias", cfg.SourceStorageAlias),
		slog.String("committedAlias", cfg.CommittedStorageAlias),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoOpts := otelmongo.NewMonitor()
	mongoClient, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(mongoOpts))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	restoreUC := &usecase.RestoreJobs{Repo: repo, Logger: logger}
	restoreUC.Run(connectCtx)

	backends, err := buildBackends(connectCtx, cfg)
	if err != nil {
		logger.Error("storage backend init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	resolveBackend := func(alias string) (ports.StorageBackend, error) {
		b, ok := backends[alias]
		if !ok {
			return nil, fmt.Errorf("no storage backend configured for alias %q", alias)
		}
		return b, nil
	}

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Error("amqp dial failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer amqpConn.Close()

	publisher, err := rpc.NewPublisher(amqpConn, cfg.AMQPReplyExchange)
	if err != nil {
		logger.Error("rpc publisher init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	diskUC := &usecase.DiskPressure{
		Logger:       logger,
		DataDir:      cfg.LocalTmpDir,
		MinFreeBytes: cfg.MinDiskSpaceBytes,
		ResumeBytes:  cfg.MinDiskSpaceBytes * 2,
		Interval:     cfg.DiskCheckInterval,
	}
	go diskUC.Run(rootCtx)

	consumer, err := rpc.NewConsumer(amqpConn, cfg.AMQPExchange, cfg.AMQPRequestQueue, logger,
		rpc.WithPrefetch(cfg.AMQPPrefetch),
		rpc.WithAdmissionGate(diskUC),
	)
	if err != nil {
		logger.Error("rpc consumer init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := processor.NewRegistry()
	processor.RegisterBuiltins(registry)

	maskIndex, err := loadMaskIndex(cfg.MaskIndexPath)
	if err != nil {
		logger.Warn("mask index load failed, image destinations will fail to build",
			slog.String("path", cfg.MaskIndexPath), slog.String("error", err.Error()))
	}

	handler := apihttp.NewServer(
		apihttp.WithRepository(repo),
		apihttp.WithLogger(logger),
	)

	job := &usecase.TranscodeJob{
		Registry:       registry,
		Repo:           repo,
		Replies:        publisher,
		Broadcaster:    handler,
		Logger:         logger,
		ResolveBackend: resolveBackend,
		PreloadBufSize: int(cfg.PreloadBufMaxBytes),
		TickInterval:   10 * time.Millisecond,
		MaskIndex:      maskIndex,
		FilterGraphBase: hls.FilterGraphSpec{
			ScaleW:   cfg.MaskScaleWidth,
			ScaleH:   cfg.MaskScaleHeight,
			CropW:    cfg.MaskCropWidth,
			CropH:    cfg.MaskCropHeight,
			CropX:    cfg.MaskCropX,
			CropY:    cfg.MaskCropY,
			OverlayX: cfg.MaskOverlayX,
			OverlayY: cfg.MaskOverlayY,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- srv.ListenAndServe()
	}()
	logger.Info("admin http server started", slog.String("addr", cfg.HTTPAddr))

	consumeErrCh := make(chan error, 1)
	go func() {
		consumeErrCh <- consumer.Consume(rootCtx, func(ctx context.Context, correlationID string, req domain.TranscodeRequest) {
			if err := job.Run(ctx, correlationID, req); err != nil {
				logger.Warn("transcode job failed",
					slog.String("correlationId", correlationID),
					slog.String("error", err.Error()),
				)
			}
		})
	}()
	logger.Info("rpc consumer started", slog.String("queue", cfg.AMQPRequestQueue))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
		}
	case err := <-consumeErrCh:
		if err != nil {
			logger.Error("rpc consumer stopped", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = consumer.Close()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("worker stopped")
}

// buildBackends constructs the storage backends named in cfg: a local-temp
// backend for SourceStorageAlias and, when an S3 bucket is configured, a
// remote backend for CommittedStorageAlias. Destination version specs that
// name an alias not present in the returned map fail at job-resolution time
// with a clear error rather than a nil-pointer panic.
func buildBackends(ctx context.Context, cfg app.Config) (map[string]ports.StorageBackend, error) {
	backends := make(map[string]ports.StorageBackend)

	localOpts := []local.Option{local.WithMaxBytes(cfg.LocalTmpMaxBytes)}
	if strings.TrimSpace(cfg.LocalTmpSpillDir) != "" {
		localOpts = append(localOpts, local.WithSpillDir(cfg.LocalTmpSpillDir))
	}
	backends[cfg.SourceStorageAlias] = local.NewBackend(cfg.SourceStorageAlias, localOpts...)

	if strings.TrimSpace(cfg.S3Bucket) != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)
		backends[cfg.CommittedStorageAlias] = remote.NewBackend(s3Client, cfg.S3Bucket, cfg.CommittedStorageAlias, cfg.S3Prefix)
	}

	return backends, nil
}

// loadMaskIndex reads the JSON pattern-name-to-mask-path index named in
// config. An unconfigured path returns a nil index and no error; a path
// that cannot be opened or parsed returns an error, which main logs
// without stopping. Either way image destinations are left unable to
// build, which buildMap reports per request rather than failing the whole
// worker at startup.
func loadMaskIndex(path string) (hls.MaskIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask index %q: %w", path, err)
	}
	defer f.Close()
	idx, err := hls.LoadMaskIndex(f)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
