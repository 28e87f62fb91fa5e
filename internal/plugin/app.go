package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/probot"
	"github.com/mattjoyce/probot-gw/internal/protocol"
)

// Resolver resolves "plugin:<name>" app names to apps backed by plugin executables.
type Resolver struct {
	registry *Registry
	runner   *Runner
}

// NewResolver creates a Resolver over the discovered plugins.
func NewResolver(registry *Registry, runner *Runner) *Resolver {
	return &Resolver{registry: registry, runner: runner}
}

// Resolve implements probot.Resolver. Names without the plugin prefix are
// reported as unknown so a probot.Chain can fall through to other resolvers.
func (r *Resolver) Resolve(name string) (probot.AppFunc, error) {
	pluginName, ok := strings.CutPrefix(name, config.PluginAppPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %q", probot.ErrUnknownApp, name)
	}
	if r.registry == nil {
		return nil, fmt.Errorf("%w: %q (no plugins discovered)", probot.ErrUnknownApp, name)
	}
	p, ok := r.registry.Get(pluginName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", probot.ErrUnknownApp, name)
	}
	return r.app(p), nil
}

func (r *Resolver) app(p *Plugin) probot.AppFunc {
	return func(app *probot.Application) error {
		logger := app.Log().With("plugin", p.Name)
		appID := app.AppID()

		app.On(func(ctx context.Context, ev probot.Event) error {
			if !p.Subscribes(ev.Name) && !p.Subscribes(ev.Qualified()) {
				return nil
			}
			return r.handle(ctx, logger, p, appID, ev)
		}, probot.AnyEvent)

		logger.Info("plugin app loaded", "version", p.Version, "events", []string(p.Events))
		return nil
	}
}

func (r *Resolver) handle(ctx context.Context, logger *slog.Logger, p *Plugin, appID string, ev probot.Event) error {
	now := time.Now().UTC()
	req := &protocol.Request{
		Protocol: protocol.Version,
		Command:  protocol.CommandHandle,
		AppID:    appID,
		Config:   p.Config,
		Event: &protocol.Event{
			Name:       ev.Name,
			Action:     ev.Action(),
			DeliveryID: ev.ID,
			Payload:    ev.Payload,
			ReceivedAt: now,
		},
		DeadlineAt: now.Add(p.Timeout),
	}

	logger = logger.With("delivery_id", ev.ID, "event", ev.Qualified())
	res, err := r.runner.Run(ctx, p, req)
	if res != nil && res.Stderr != "" {
		logger.Debug("plugin stderr", "stderr", res.Stderr)
	}
	if err != nil {
		return fmt.Errorf("plugin %s: %w", p.Name, err)
	}

	relayLogs(logger, res.Response.Logs)

	if !res.Response.OK() {
		return errors.New(res.Response.Error)
	}
	logger.Debug("plugin handled event", "duration", res.Duration)
	return nil
}

func relayLogs(logger *slog.Logger, entries []protocol.LogEntry) {
	for _, entry := range entries {
		switch entry.Level {
		case "debug":
			logger.Debug(entry.Message)
		case "warn":
			logger.Warn(entry.Message)
		case "error":
			logger.Error(entry.Message)
		default:
			logger.Info(entry.Message)
		}
	}
}
