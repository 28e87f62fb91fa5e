package probot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/mattjoyce/probot-gw/internal/credentials"
)

// Initializer lazily builds the process-wide runtime.
//
// The handle moves from uninitialized to ready exactly once. Construction is
// serialized by a mutex; a failed attempt leaves the handle uninitialized so
// the next caller tries again.
type Initializer struct {
	provider credentials.Provider
	app      App
	resolver Resolver
	log      *slog.Logger

	mu     sync.Mutex
	handle atomic.Pointer[Probot]
	builds atomic.Int64
}

// NewInitializer creates an Initializer for app using provider's credentials.
// A nil log uses slog.Default.
func NewInitializer(provider credentials.Provider, app App, resolver Resolver, log *slog.Logger) *Initializer {
	if log == nil {
		log = slog.Default()
	}
	return &Initializer{
		provider: provider,
		app:      app,
		resolver: resolver,
		log:      log,
	}
}

// Ensure returns the runtime, building it on first use.
func (i *Initializer) Ensure(ctx context.Context) (*Probot, error) {
	if p := i.handle.Load(); p != nil {
		return p, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if p := i.handle.Load(); p != nil {
		return p, nil
	}

	creds, err := i.provider.Provide(ctx)
	if err != nil {
		return nil, fmt.Errorf("provide credentials: %w", err)
	}

	fn, err := i.app.Resolve(i.resolver)
	if err != nil {
		return nil, fmt.Errorf("resolve app %s: %w", i.app, err)
	}

	p := New(creds, i.log.With("app", i.app.String()))
	if err := p.Load(fn); err != nil {
		return nil, fmt.Errorf("load app %s: %w", i.app, err)
	}

	i.handle.Store(p)
	i.builds.Inc()

	i.log.Info("runtime initialized",
		"app", i.app.String(),
		"app_id", creds.AppID,
		"instance_id", p.InstanceID(),
		"secret", credentials.Fingerprint(creds.WebhookSecret),
	)
	return p, nil
}

// Ready reports whether the runtime has been built.
func (i *Initializer) Ready() bool {
	return i.handle.Load() != nil
}

// Builds returns how many runtimes this Initializer has constructed.
func (i *Initializer) Builds() int64 {
	return i.builds.Load()
}
