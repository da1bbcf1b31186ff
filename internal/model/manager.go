// Package model owns the process-wide speech-recognition engine.
//
// The engine is expensive to build, so it is created lazily on the first
// transcription request and shared by every request afterwards. Only a
// successful construction is remembered: a failed attempt leaves the manager
// empty and the next caller tries again from scratch.
package model

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-service/internal/core"
)

const (
	logFmtLoading    = "Loading speech model (size=%s device=%s compute=%s)"
	logFmtLoaded     = "Speech model ready in %s"
	logFmtLoadFailed = "Speech model failed to load: %v"
	errFmtInitialize = "%w: %w"
	errFmtNilEngine  = "%w: factory returned no engine"
)

// Factory builds an engine from its configuration.
type Factory func(cfg core.EngineConfig) (core.Engine, error)

// Manager lazily constructs a single engine and hands it to every caller.
type Manager struct {
	factory Factory
	config  core.EngineConfig
	log     *logger.Logger

	mu     sync.Mutex
	engine atomic.Pointer[engineHolder]
}

// engineHolder lets an interface value live behind an atomic pointer.
type engineHolder struct {
	engine core.Engine
}

// NewManager creates a Manager. The configuration is captured now and used
// for the one construction that eventually succeeds.
func NewManager(factory Factory, cfg core.EngineConfig, log *logger.Logger) *Manager {
	return &Manager{
		factory: factory,
		config:  cfg,
		log:     log,
	}
}

// Acquire returns the shared engine, constructing it if no caller has done so
// yet. Concurrent first callers wait on the one construction in progress.
func (m *Manager) Acquire(ctx context.Context) (core.Engine, error) {
	if holder := m.engine.Load(); holder != nil {
		return holder.engine, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if holder := m.engine.Load(); holder != nil {
		return holder.engine, nil
	}

	// A caller that gave up while queued on the lock does not trigger a load.
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf(errFmtInitialize, core.ErrInitialization, err)
	}

	m.log.Info(logFmtLoading, m.config.ModelSize, m.config.Device, m.config.ComputeType)

	started := time.Now()

	engine, err := m.factory(m.config)
	if err != nil {
		m.log.Error(logFmtLoadFailed, err)

		return nil, fmt.Errorf(errFmtInitialize, core.ErrInitialization, err)
	}

	if engine == nil {
		return nil, fmt.Errorf(errFmtNilEngine, core.ErrInitialization)
	}

	m.engine.Store(&engineHolder{engine: engine})
	m.log.Info(logFmtLoaded, time.Since(started).Round(time.Millisecond))

	return engine, nil
}

// Loaded reports whether the engine has been constructed. It never triggers
// construction.
func (m *Manager) Loaded() bool {
	return m.engine.Load() != nil
}

// Close releases the engine if one was constructed and it holds resources.
// The manager stays loaded; Close is meant for process shutdown.
func (m *Manager) Close() error {
	holder := m.engine.Load()
	if holder == nil {
		return nil
	}

	if closer, ok := holder.engine.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
