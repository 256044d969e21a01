package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cardiovision/auth"
	"cardiovision/config"
	"cardiovision/db"
	qhttp "cardiovision/http"
	"cardiovision/logger"
	"cardiovision/ml"
	"cardiovision/monitoring"
	"cardiovision/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Look for config in root even if run from cmd/
	path := *configPath
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = filepath.Join("..", "config.yaml")
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()
	zap.ReplaceGlobals(lg.Logger)

	if err := run(cfg, path, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, lg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	lg.Info("database initialized", zap.String("path", cfg.Database.Path))

	files, err := pipeline.NewFileStorage(cfg.Storage.UploadDir)
	if err != nil {
		return err
	}
	cache, err := pipeline.NewDatasetCache(cfg.Storage.CacheSize)
	if err != nil {
		return err
	}

	metrics := monitoring.DefaultMetrics()

	handle := ml.NewModelHandle(ml.FileLoader(cfg.ML.ModelType, cfg.ML.ModelPath), lg.Named("model"))
	handle.OnLoad(metrics.ObserveModelLoad)
	if cfg.ML.Preload {
		// A missing artifact is not fatal; prediction requests retry the load.
		if err := handle.Preload(ctx); err != nil {
			lg.Warn("model preload failed", zap.String("model_type", cfg.ML.ModelType), zap.Error(err))
		}
	}
	predictor := ml.NewPredictor(handle, lg.Named("predictor"), metrics)

	events := monitoring.NewEventHub(lg.Named("events"), cfg.Http.AllowedOrigins)
	go events.Run(ctx)
	metrics.TrackEventClients(events)

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if err := lg.SetLevel(next.Log.Level); err != nil {
			lg.Warn("ignoring log level", zap.Error(err))
		}
	}, lg.Named("config"))
	if err != nil {
		lg.Warn("config watcher disabled", zap.Error(err))
	} else {
		go watcher.Run(ctx)
		defer watcher.Close()
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		ReadTimeout:    cfg.Http.ReadTimeout,
		WriteTimeout:   cfg.Http.WriteTimeout,
		RequestTimeout: cfg.Http.RequestTimeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, qhttp.Deps{
		Store:     store,
		Auth:      auth.NewService(store, tokens, lg.Named("auth")),
		Model:     handle,
		Predictor: predictor,
		Files:     files,
		Cache:     cache,
		Events:    events,
		Metrics:   metrics,
		Logger:    lg.Logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}
	<-events.Done()
	return nil
}
