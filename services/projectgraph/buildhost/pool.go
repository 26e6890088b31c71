// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package buildhost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Pool.
type Config struct {
	// EngineDir holds the engine binaries.
	EngineDir string

	// DotnetPath is the dotnet executable. Empty searches PATH.
	DotnetPath string

	// MonoPath is the mono executable. Empty searches PATH.
	MonoPath string

	// BinaryLogPath, when set, asks every engine to write a binary log.
	BinaryLogPath string

	// MinimumSDKVersion is the lowest SDK version Modern accepts.
	MinimumSDKVersion string

	// ShutdownTimeout bounds the graceful shutdown of each engine.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 5 * time.Second,
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLauncher sets how engine processes are started.
func WithLauncher(l Launcher) Option {
	return func(p *Pool) { p.launcher = l }
}

// WithToolchain sets how toolchain availability is discovered.
func WithToolchain(t Toolchain) Option {
	return func(p *Pool) { p.toolchain = t }
}

// WithSelector sets how project files are classified.
func WithSelector(s *VariantSelector) Option {
	return func(p *Pool) { p.selector = s }
}

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithEnviron sets the parent environment engines inherit (after
// scrubbing). Nil means os.Environ().
func WithEnviron(environ []string) Option {
	return func(p *Pool) { p.environ = environ }
}

// =============================================================================
// POOL
// =============================================================================

// Pool keeps at most one engine process per variant.
//
// Description:
//
//	The variant → process map is guarded by one mutex that also covers
//	spawning, so concurrent first acquisitions of a variant spawn exactly
//	one process and the later callers receive it. When a process
//	disconnects its entry is removed, exactly once, by compare-and-delete
//	under the same mutex; the next acquisition spawns a replacement.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Pool struct {
	cfg       Config
	launcher  Launcher
	toolchain Toolchain
	selector  *VariantSelector
	logger    *slog.Logger
	environ   []string

	mu      sync.Mutex
	engines map[EngineVariant]*engineProcess

	warnMu sync.Mutex
	warned map[EngineVariant]bool
}

// NewPool creates an empty pool. No process is started until the first
// acquisition.
func NewPool(cfg Config, opts ...Option) *Pool {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	p := &Pool{
		cfg:     cfg,
		engines: make(map[EngineVariant]*engineProcess),
		warned:  make(map[EngineVariant]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.launcher == nil {
		p.launcher = ExecLauncher{Logger: p.logger}
	}
	if p.toolchain == nil {
		p.toolchain = &HostToolchain{
			DotnetPath:        cfg.DotnetPath,
			MonoPath:          cfg.MonoPath,
			EngineDir:         cfg.EngineDir,
			MinimumSDKVersion: cfg.MinimumSDKVersion,
		}
	}
	if p.selector == nil {
		p.selector = defaultSelector
	}
	return p
}

// SelectVariant classifies path with the pool's selector.
func (p *Pool) SelectVariant(path string) (EngineVariant, error) {
	return p.selector.Select(path)
}

// Available reports whether the host toolchain can run variant v.
func (p *Pool) Available(v EngineVariant) bool {
	return p.toolchain.Available(v)
}

// AcquireForProject returns a client able to load the project at path.
//
// Description:
//
//	Selects the variant the project needs. When that is LegacyFramework
//	or CompatibilityShim and the toolchain is not available, Modern is
//	used instead and the needed variant is returned as preferred. The
//	pool logs one warning per substituted variant; callers get preferred
//	on every call.
//
// Outputs:
//
//	*Client - The engine client.
//	EngineVariant - The substituted variant, or VariantNone.
//	error - Selection or launch failure.
func (p *Pool) AcquireForProject(ctx context.Context, path string) (*Client, EngineVariant, error) {
	want, err := p.selector.Select(path)
	if err != nil {
		return nil, VariantNone, err
	}

	preferred := VariantNone
	actual := want
	if want != Modern && !p.toolchain.Available(want) {
		actual = Modern
		preferred = want
		p.warnSubstitution(want, path)
	}

	client, err := p.Acquire(ctx, actual)
	if err != nil {
		return nil, preferred, err
	}
	return client, preferred, nil
}

func (p *Pool) warnSubstitution(want EngineVariant, path string) {
	p.warnMu.Lock()
	defer p.warnMu.Unlock()
	if p.warned[want] {
		return
	}
	p.warned[want] = true
	p.logger.Warn("Build engine variant unavailable, using modern engine",
		slog.String("preferred", want.String()),
		slog.String("project", path),
	)
}

// Acquire returns the client for variant, spawning its engine if needed.
//
// Description:
//
//	Holds the pool mutex while checking the cache and spawning, so a
//	second concurrent caller waits for the first spawn and shares its
//	process. Spawning ignores cancellation of ctx.
//
// Outputs:
//
//	*Client - The engine client.
//	error - ErrUnknownVariant or a launch failure.
func (p *Pool) Acquire(ctx context.Context, variant EngineVariant) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	spec, err := NewLaunchSpec(variant, LaunchOptions{
		EngineDir:     p.cfg.EngineDir,
		DotnetPath:    p.cfg.DotnetPath,
		MonoPath:      p.cfg.MonoPath,
		BinaryLogPath: p.cfg.BinaryLogPath,
		Environ:       p.environ,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.engines[variant]; ok {
		if e.State() == StateRunning {
			return e.client, nil
		}
		delete(p.engines, variant)
		recordEviction(ctx, variant, "stale")
	}

	ctx, span := tracer.Start(ctx, "Pool.spawn")
	e := newEngineProcess(variant, p.logger, p.evict)
	err = e.start(context.WithoutCancel(ctx), p.launcher, spec)
	recordSpawn(ctx, variant, err == nil)
	endSpan(span, err)
	if err != nil {
		p.logger.Error("Build engine launch failed",
			slog.String("variant", variant.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	p.engines[variant] = e
	return e.client, nil
}

// evict is the disconnect handler. It removes e from the pool if e is
// still the cached process for its variant and releases e's resources.
func (p *Pool) evict(e *engineProcess) {
	p.mu.Lock()
	if cur, ok := p.engines[e.variant]; ok && cur == e {
		delete(p.engines, e.variant)
		recordEviction(context.Background(), e.variant, "disconnected")
	}
	p.mu.Unlock()

	go func() {
		_ = e.shutdown(context.Background(), p.cfg.ShutdownTimeout)
	}()
}

// Get returns the running client for variant, or nil.
func (p *Pool) Get(variant EngineVariant) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.engines[variant]; ok && e.State() == StateRunning {
		return e.client
	}
	return nil
}

// Running returns the variants with a running engine, in variant order.
func (p *Pool) Running() []EngineVariant {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EngineVariant, 0, len(p.engines))
	for v, e := range p.engines {
		if e.State() == StateRunning {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Shutdown stops every cached engine.
//
// Description:
//
//	Empties the pool, then shuts the engines down in parallel: a graceful
//	shutdown call bounded by Config.ShutdownTimeout, then a kill if that
//	fails. Ignores cancellation of ctx. Idempotent, and safe to race with
//	engines disconnecting on their own. The pool remains usable; a later
//	acquisition spawns a new engine.
//
// Outputs:
//
//	error - The first kill failure, if any. Engines are removed regardless.
func (p *Pool) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	engines := make([]*engineProcess, 0, len(p.engines))
	for v, e := range p.engines {
		engines = append(engines, e)
		delete(p.engines, v)
		recordEviction(ctx, v, "shutdown")
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, e := range engines {
		g.Go(func() error {
			return e.shutdown(ctx, p.cfg.ShutdownTimeout)
		})
	}
	return g.Wait()
}
