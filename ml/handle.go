package ml

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LoaderFunc produces an artifact. LoadModel bound to a type and root is the usual one.
type LoaderFunc func(ctx context.Context) (*Artifact, error)

// LoadHook observes every load attempt.
type LoadHook func(err error)

// ModelHandle owns the model for the lifetime of the process. It moves from
// unloaded to loaded exactly once; a failed attempt leaves it unloaded so the
// next caller retries.
type ModelHandle struct {
	load   LoaderFunc
	logger *zap.Logger
	hook   LoadHook

	// loading is held by the single in-flight load; mu only guards fields.
	loading chan struct{}

	mu       sync.Mutex
	artifact *Artifact
	attempts int
}

// NewModelHandle wraps a loader. Nothing is loaded until Get or Preload.
func NewModelHandle(load LoaderFunc, logger *zap.Logger) *ModelHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandle{load: load, logger: logger, loading: make(chan struct{}, 1)}
}

// FileLoader loads modelType from the artifact root directory.
func FileLoader(modelType, root string) LoaderFunc {
	return func(ctx context.Context) (*Artifact, error) {
		return LoadModel(modelType, root)
	}
}

// OnLoad registers a hook called after each load attempt.
func (h *ModelHandle) OnLoad(hook LoadHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hook = hook
}

// Get returns the loaded artifact, loading it first if needed. Concurrent
// callers wait for a single load, or until their ctx is done.
func (h *ModelHandle) Get(ctx context.Context) (*Artifact, error) {
	if artifact := h.current(); artifact != nil {
		return artifact, nil
	}

	select {
	case h.loading <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-h.loading }()

	// Another caller may have finished loading while we waited.
	if artifact := h.current(); artifact != nil {
		return artifact, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.attempts++
	attempt, hook := h.attempts, h.hook
	h.mu.Unlock()

	artifact, err := h.load(ctx)
	if hook != nil {
		hook(err)
	}
	if err != nil {
		h.logger.Error("model load failed", zap.Int("attempt", attempt), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	h.mu.Lock()
	h.artifact = artifact
	h.mu.Unlock()
	h.logger.Info("model loaded",
		zap.String("model_type", artifact.ModelType),
		zap.String("version", artifact.Version),
		zap.String("preprocessing", artifact.Encoder.Version()),
		zap.Float64("threshold", artifact.Threshold),
		zap.Int("inputs", len(artifact.Model.Inputs())),
	)
	return artifact, nil
}

func (h *ModelHandle) current() *Artifact {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.artifact
}

// Preload loads eagerly, typically at startup.
func (h *ModelHandle) Preload(ctx context.Context) error {
	_, err := h.Get(ctx)
	return err
}

// Loaded reports whether the model is in memory. It never waits on a load.
func (h *ModelHandle) Loaded() bool {
	return h.current() != nil
}

// Attempts is the number of load attempts made so far.
func (h *ModelHandle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// StaticHandle returns a handle that is already loaded with artifact.
func StaticHandle(artifact *Artifact) *ModelHandle {
	return &ModelHandle{
		load: func(context.Context) (*Artifact, error) {
			return artifact, nil
		},
		logger:   zap.NewNop(),
		loading:  make(chan struct{}, 1),
		artifact: artifact,
	}
}
