package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cardiovision/auth"
	"cardiovision/db"
	"cardiovision/ml"
	"cardiovision/monitoring"
	"cardiovision/pipeline"
)

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxBodyBytes:   10 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// Deps are the components the handlers operate on. Metrics and Events may be
// nil.
type Deps struct {
	Store     *db.Store
	Auth      *auth.Service
	Model     *ml.ModelHandle
	Predictor *ml.Predictor
	Files     *pipeline.FileStorage
	Cache     *pipeline.DatasetCache
	Events    *monitoring.EventHub
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Server owns the listening http.Server.
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// NewServer wires routes and middleware.
func NewServer(config ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewHandler(config, deps),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}
}

// NewHandler returns the fully wrapped router.
func NewHandler(config ServerConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	a := &api{
		store:     deps.Store,
		auth:      deps.Auth,
		model:     deps.Model,
		predictor: deps.Predictor,
		files:     deps.Files,
		cache:     deps.Cache,
		events:    deps.Events,
		logger:    deps.Logger.Named("api"),
	}

	mux := http.NewServeMux()
	a.register(mux, AuthMiddleware(deps.Auth.Tokens()))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	var observer RequestObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	chain := Chain(
		RecoveryMiddleware(deps.Logger),
		LoggerMiddleware(deps.Logger.Named("access"), observer),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.RequestTimeout),
		RequestSizeMiddleware(config.MaxBodyBytes),
	)
	return chain(mux)
}

// Start blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
