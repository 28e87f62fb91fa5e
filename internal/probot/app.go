package probot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownApp is returned by a Resolver that does not know a name.
var ErrUnknownApp = errors.New("unknown app")

// App is either a direct AppFunc or the name of an app to resolve.
type App struct {
	fn   AppFunc
	name string
}

// Direct wraps an AppFunc.
func Direct(fn AppFunc) App {
	return App{fn: fn}
}

// Named refers to an app by name, resolved once at initialization.
func Named(name string) App {
	return App{name: name}
}

// String describes the app for logs.
func (a App) String() string {
	if a.fn != nil {
		return "direct"
	}
	return a.name
}

// Resolve returns the AppFunc, consulting r for named apps.
func (a App) Resolve(r Resolver) (AppFunc, error) {
	if a.fn != nil {
		return a.fn, nil
	}
	if a.name == "" {
		return nil, fmt.Errorf("app has neither a function nor a name")
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %q (no resolver configured)", ErrUnknownApp, a.name)
	}
	return r.Resolve(a.name)
}

// Resolver maps app names to AppFuncs.
type Resolver interface {
	Resolve(name string) (AppFunc, error)
}

// Chain tries each resolver in order, skipping those that return ErrUnknownApp.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(name string) (AppFunc, error) {
	for _, r := range c {
		fn, err := r.Resolve(name)
		if errors.Is(err, ErrUnknownApp) {
			continue
		}
		return fn, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownApp, name)
}

// Registry holds apps registered by name.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]AppFunc
}

// NewRegistry creates a registry preloaded with the built-in apps.
func NewRegistry() *Registry {
	r := &Registry{apps: make(map[string]AppFunc)}
	r.Register("log", LogApp)
	return r
}

// Register adds or replaces an app.
func (r *Registry) Register(name string, fn AppFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[name] = fn
}

// Resolve implements Resolver.
func (r *Registry) Resolve(name string) (AppFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, name)
	}
	return fn, nil
}

// Names lists registered app names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogApp records every event it receives. Payload contents are not logged.
func LogApp(app *Application) error {
	app.On(func(_ context.Context, ev Event) error {
		attrs := []any{"event", ev.Qualified(), "delivery_id", ev.ID}
		if inst, ok := ev.Payload["installation"].(map[string]any); ok {
			if id, ok := inst["id"]; ok {
				attrs = append(attrs, "installation_id", id)
			}
		}
		if repo, ok := ev.Payload["repository"].(map[string]any); ok {
			if name, ok := repo["full_name"].(string); ok {
				attrs = append(attrs, "repository", name)
			}
		}
		app.Log().Info("event received", attrs...)
		return nil
	}, AnyEvent)
	return nil
}
