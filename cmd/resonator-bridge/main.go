// Command resonator-bridge runs the local audio bridge: an HTTP façade (and
// optional NATS worker) in front of an external generative model runner,
// degrading to exact passthrough whenever the model is unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/resonator-bridge/internal/config"
	"github.com/book-expert/resonator-bridge/internal/core"
	"github.com/book-expert/resonator-bridge/internal/engine"
	"github.com/book-expert/resonator-bridge/internal/model"
	"github.com/book-expert/resonator-bridge/internal/objectstore"
	"github.com/book-expert/resonator-bridge/internal/params"
	"github.com/book-expert/resonator-bridge/internal/server"
	"github.com/book-expert/resonator-bridge/internal/worker"
)

const (
	sentryFlushTimeout  = 2 * time.Second
	shutdownGracePeriod = 10 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

// releaseVersion is set via ldflags during build.
var releaseVersion = "dev"

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "resonator-bridge.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; environment variables win either way.
	_ = godotenv.Load()

	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	sentryEnabled := initSentry(cfg, finalLog)
	if sentryEnabled {
		defer sentry.Flush(sentryFlushTimeout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runBridge(ctx, stop, cfg, finalLog, sentryEnabled)
}

// initSentry reports whether crash reporting was switched on.
func initSentry(cfg *config.Config, log *logger.Logger) bool {
	if cfg.Sentry.DSN == "" {
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     "resonator-bridge@" + releaseVersion,
	})
	if err != nil {
		log.Warn("Failed to initialize Sentry, continuing without it: %v", err)

		return false
	}

	log.Info("Sentry initialized (environment: %s, release: %s)", cfg.Sentry.Environment, releaseVersion)

	return true
}

func runBridge(
	ctx context.Context,
	stop context.CancelFunc,
	cfg *config.Config,
	log *logger.Logger,
	sentryEnabled bool,
) error {
	manager := buildManager(ctx, cfg, log)

	router := server.NewRouter(manager, log, server.Options{
		SampleRate: cfg.Audio.SampleRate,
		BufferSize: cfg.Audio.BufferSize,
		Version:    releaseVersion,
		Defaults: params.Controls{
			Prompt:          cfg.Defaults.Prompt,
			GuidanceScale:   cfg.Defaults.GuidanceScale,
			NumSteps:        cfg.Defaults.NumSteps,
			Seed:            cfg.Defaults.Seed,
			InputStrength:   cfg.Defaults.InputStrength,
			Shift:           cfg.Defaults.Shift,
			InferMethod:     cfg.Defaults.InferMethod,
			Entropy:         cfg.Defaults.Entropy,
			Granularity:     cfg.Defaults.Granularity,
			AudioDuration:   cfg.Defaults.AudioDuration,
			DenoiseStrength: cfg.Defaults.DenoiseStrength,
		},
		EnableSentry: sentryEnabled,
		Shutdown:     stop,
	})

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	workerErrChan := startWorker(ctx, cfg, manager, log)

	serverErrChan := make(chan error, 1)

	go func() {
		log.System("Resonator bridge listening on %s", httpServer.Addr)

		listenErr := httpServer.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErrChan <- listenErr
		}

		close(serverErrChan)
	}()

	select {
	case <-ctx.Done():
	case serverErr := <-serverErrChan:
		if serverErr != nil {
			return fmt.Errorf("http server failed: %w", serverErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("http server shutdown failed: %w", shutdownErr)
	}

	if workerErrChan != nil {
		workerErr := <-workerErrChan
		if workerErr != nil {
			return fmt.Errorf("nats worker failed: %w", workerErr)
		}
	}

	log.System("Resonator bridge stopped")

	return nil
}

// buildManager constructs the model manager and performs the one-shot load
// attempt. A failed load is reported and leaves the bridge in passthrough
// mode, it never aborts startup.
func buildManager(ctx context.Context, cfg *config.Config, log *logger.Logger) *model.Manager {
	runnerClient := engine.NewClient(
		cfg.Model.RunnerURL,
		time.Duration(cfg.Model.TimeoutSeconds)*time.Second,
	)

	allowed := make([]core.Device, 0, len(cfg.Model.AllowedDevices))
	for _, name := range cfg.Model.AllowedDevices {
		allowed = append(allowed, core.Device(name))
	}

	manager := model.NewManager(runnerClient, runnerClient, model.DevicePolicy{
		Allowed:        allowed,
		AllowUnsafeMPS: cfg.Model.AllowUnsafeMPS,
	}, log)

	loadErr := manager.Load(ctx, cfg.Model.Path, core.Device(cfg.Model.Device))
	if loadErr != nil {
		log.Warn("Running in passthrough mode: %v", loadErr)
	}

	return manager
}

// startWorker launches the NATS job worker when a NATS URL is configured. It
// returns nil when the worker transport is disabled.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	manager *model.Manager,
	log *logger.Logger,
) chan error {
	if cfg.NATS.URL == "" {
		return nil
	}

	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)

		runErr := runWorker(ctx, cfg, manager, log)
		if runErr != nil {
			errChan <- runErr
		}
	}()

	return errChan
}

func runWorker(
	ctx context.Context,
	cfg *config.Config,
	manager *model.Manager,
	log *logger.Logger,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio object store: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.InferSubject, store, manager, log,
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	log.System("NATS worker listening on subject: %s", cfg.NATS.InferSubject)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("nats worker run failed: %w", runErr)
	}

	return nil
}
