package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Tutortoise/food-detection-service/config"
	"github.com/Tutortoise/food-detection-service/detections"
	"github.com/Tutortoise/food-detection-service/detector"
	"github.com/Tutortoise/food-detection-service/labels"
	"github.com/Tutortoise/food-detection-service/logging"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/mdobak/go-xerrors"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/errgroup"
)

const ShutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{Debug: cfg.Debug, Format: cfg.LogFormat}, os.Stderr)
	slog.SetDefault(logger)

	table := labels.Default()
	if cfg.LabelsPath != "" {
		if table, err = labels.Load(cfg.LabelsPath); err != nil {
			return err
		}
	}

	modelPath, err := resolveModel(cfg.ModelPath)
	if err != nil {
		return err
	}
	libPath, err := resolveLibrary(cfg.ORTLibrary)
	if err != nil {
		return err
	}

	cpus, err := config.ParseCPUList(cfg.CPUAffinity)
	if err != nil {
		return err
	}
	if len(cpus) > 0 {
		// ORT worker threads are spawned from this thread and inherit its mask.
		runtime.LockOSThread()
		if err := pinCPUs(cpus); err != nil {
			return fmt.Errorf("pin cpus: %w", err)
		}
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx environment: %w", err)
	}
	defer ort.DestroyEnvironment()

	sessCfg := sessionConfig{
		ModelPath:      modelPath,
		NumClasses:     table.Len(),
		IntraOpThreads: cfg.IntraOpThreads,
		InterOpThreads: cfg.InterOpThreads,
	}
	if sessCfg.IntraOpThreads == 0 {
		sessCfg.IntraOpThreads = usableCPUs()
	}
	if sessCfg.InterOpThreads == 0 {
		sessCfg.InterOpThreads = usableCPUs()
	}

	if err := validateModel(sessCfg); err != nil {
		return fmt.Errorf("validate model: %w", err)
	}

	pool, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
		return initSession(sessCfg)
	}, cfg.PoolSize, cfg.AcquireTimeout)
	if err != nil {
		return fmt.Errorf("create model session pool: %w", err)
	}
	defer pool.Destroy()

	state := &AppState{
		Detector:     detector.NewService(detections.NewScorer(pool), table, detector.WithMaxPixels(cfg.MaxPixels)),
		Pool:         pool,
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	logger.Info("model loaded",
		slog.String("model", modelPath),
		slog.String("onnxruntime", libPath),
		slog.Int("classes", table.Len()),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("intra_op_threads", sessCfg.IntraOpThreads),
		slog.Int("inter_op_threads", sessCfg.InterOpThreads))

	logger.Debug("label table", slog.Any("names", table.Names()))

	if cfg.ResolveMode() == config.ModeLambda {
		logger.Info("starting lambda handler")
		lambda.Start(state.LambdaHandler)
		return nil
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv, logger)
}

// serve runs srv until ctx is canceled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})

	return group.Wait()
}
