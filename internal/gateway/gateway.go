// Package gateway assembles the webhook gateway from a loaded configuration.
// Both the long-running server and the Lambda entrypoint build through here.
package gateway

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/credentials"
	"github.com/mattjoyce/probot-gw/internal/kms"
	"github.com/mattjoyce/probot-gw/internal/metrics"
	"github.com/mattjoyce/probot-gw/internal/plugin"
	"github.com/mattjoyce/probot-gw/internal/probot"
	"github.com/mattjoyce/probot-gw/internal/webhook"
)

// Gateway holds the assembled components.
type Gateway struct {
	Config      *config.Config
	Plugins     *plugin.Registry
	Initializer *probot.Initializer
	Dispatcher  *webhook.Dispatcher
	Server      *webhook.Server
}

type options struct {
	provider   credentials.Provider
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// Option customizes Build.
type Option func(*options)

// WithProvider overrides the credentials provider derived from config.
func WithProvider(p credentials.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithPrometheus registers metrics with reg and serves them from g.
// Without it the default Prometheus registry is used when metrics are enabled.
func WithPrometheus(reg prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = g
	}
}

// Build wires credentials, plugin discovery, the app resolver, the lazy
// runtime initializer, the dispatcher and the HTTP server. No credentials are
// fetched here; the first delivery does that.
func Build(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	provider := o.provider
	if provider == nil {
		p, err := kms.NewProvider(cfg, logger.With("component", "credentials"))
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		provider = p
	}

	plugins, err := DiscoverPlugins(cfg.PluginsDir, logger.With("component", "plugin"))
	if err != nil {
		return nil, err
	}

	resolver := probot.Chain{
		plugin.NewResolver(plugins, plugin.NewRunner(logger.With("component", "plugin"))),
		probot.NewRegistry(),
	}
	initr := probot.NewInitializer(provider, probot.Named(cfg.App.Name), resolver, logger.With("component", "probot"))

	dispatcherOpts := []webhook.Option{webhook.WithMaxBodySize(cfg.MaxBodyBytes())}
	serverOpts := []webhook.ServerOption{webhook.WithReadiness(initr)}
	if cfg.Server.Metrics {
		reg, g := o.registerer, o.gatherer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if g == nil {
			g = prometheus.DefaultGatherer
		}
		m := metrics.New(reg, metrics.DefaultNamespace)
		dispatcherOpts = append(dispatcherOpts, webhook.WithMetrics(m))
		serverOpts = append(serverOpts, webhook.WithServerMetrics(m, g))
	}

	d := webhook.NewDispatcher(initr, logger.With("component", "webhook"), dispatcherOpts...)
	srv := webhook.NewServer(cfg.Server, d, logger.With("component", "server"), serverOpts...)

	return &Gateway{
		Config:      cfg,
		Plugins:     plugins,
		Initializer: initr,
		Dispatcher:  d,
		Server:      srv,
	}, nil
}

// DiscoverPlugins scans dir for plugins. An empty dir yields an empty registry.
func DiscoverPlugins(dir string, logger *slog.Logger) (*plugin.Registry, error) {
	if dir == "" {
		return plugin.NewRegistry(), nil
	}
	registry, err := plugin.Discover(dir, func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("plugin discovery in %s: %w", dir, err)
	}
	logger.Info("plugin discovery complete", "count", len(registry.Names()))
	return registry, nil
}
