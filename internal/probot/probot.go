// Package probot is the application runtime webhook deliveries are
// dispatched into.
//
// An app is a function that subscribes handlers to event names on an
// Application. The runtime routes each received Event to handlers registered
// for "*", for the event name ("issues"), and for the qualified name
// ("issues.opened"). The runtime is built once per process by an Initializer.
package probot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/probot-gw/internal/credentials"
)

// AnyEvent subscribes a handler to every event.
const AnyEvent = "*"

// Event is a single webhook delivery handed to the runtime.
type Event struct {
	Name    string
	ID      string
	Payload map[string]any
}

// Action returns the payload's "action" field, or "" when absent.
func (e Event) Action() string {
	if e.Payload == nil {
		return ""
	}
	action, _ := e.Payload["action"].(string)
	return action
}

// Qualified returns "name.action", or just the name when there is no action.
func (e Event) Qualified() string {
	if action := e.Action(); action != "" {
		return e.Name + "." + action
	}
	return e.Name
}

// HandlerFunc handles one event. A returned error fails the delivery.
type HandlerFunc func(ctx context.Context, ev Event) error

// AppFunc registers an app's handlers on the Application.
type AppFunc func(app *Application) error

// Application is the surface an AppFunc sees while loading.
type Application struct {
	runtime *Probot
	log     *slog.Logger
}

// On subscribes h to the given event names ("issues", "issues.opened", "*").
func (a *Application) On(h HandlerFunc, events ...string) {
	a.runtime.mu.Lock()
	defer a.runtime.mu.Unlock()
	for _, name := range events {
		a.runtime.handlers[name] = append(a.runtime.handlers[name], h)
	}
}

// Log returns the app's logger.
func (a *Application) Log() *slog.Logger {
	return a.log
}

// AppID returns the GitHub App id the runtime was built with.
func (a *Application) AppID() string {
	return a.runtime.creds.AppID
}

// Probot is the initialized runtime.
type Probot struct {
	instanceID string
	creds      *credentials.Credentials
	log        *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// New builds a runtime from credentials. A nil log uses slog.Default.
func New(creds *credentials.Credentials, log *slog.Logger) *Probot {
	if log == nil {
		log = slog.Default()
	}
	return &Probot{
		instanceID: uuid.NewString(),
		creds:      creds,
		log:        log,
		handlers:   make(map[string][]HandlerFunc),
	}
}

// InstanceID identifies this runtime instance.
func (p *Probot) InstanceID() string {
	return p.instanceID
}

// AppID returns the GitHub App id.
func (p *Probot) AppID() string {
	return p.creds.AppID
}

// Secret returns the webhook shared secret.
func (p *Probot) Secret() []byte {
	return p.creds.WebhookSecret
}

// PrivateKey returns the App's signing key material.
func (p *Probot) PrivateKey() []byte {
	return p.creds.PrivateKey
}

// Load runs fn so it can register its handlers.
func (p *Probot) Load(fn AppFunc) error {
	if fn == nil {
		return fmt.Errorf("app function is nil")
	}
	return fn(&Application{runtime: p, log: p.log})
}

// Receive runs every handler subscribed to ev concurrently and waits for
// them. Handler errors are joined; a panicking handler becomes an error.
func (p *Probot) Receive(ctx context.Context, ev Event) error {
	handlers := p.handlersFor(ev)
	if len(handlers) == 0 {
		p.log.Debug("no handlers for event", "event", ev.Qualified())
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("handler panic: %v", r)
				}
			}()
			errs[i] = h(ctx, ev)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (p *Probot) handlersFor(ev Event) []HandlerFunc {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []HandlerFunc
	out = append(out, p.handlers[AnyEvent]...)
	out = append(out, p.handlers[ev.Name]...)
	if q := ev.Qualified(); q != ev.Name {
		out = append(out, p.handlers[q]...)
	}
	return out
}
