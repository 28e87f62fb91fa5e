package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/credentials"
	"github.com/mattjoyce/probot-gw/internal/doctor"
	"github.com/mattjoyce/probot-gw/internal/gateway"
	"github.com/mattjoyce/probot-gw/internal/kms"
	"github.com/mattjoyce/probot-gw/internal/lock"
	"github.com/mattjoyce/probot-gw/internal/log"
	"github.com/mattjoyce/probot-gw/internal/probot"
	"github.com/mattjoyce/probot-gw/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const redacted = "<redacted>"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "server":
		return runServerNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "webhook":
		return runWebhookNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		if hasHelpFlag(args) {
			printServerStartHelp()
			return 0
		}
		return runStart(args)

	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: probot-gw version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("probot-gw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`probot-gw - GitHub App webhook gateway

Usage:
  probot-gw <noun> <action> [flags]

Core Resources (Nouns):
  server    Webhook listener lifecycle
  config    Configuration validation and inspection
  plugin    Plugin app discovery
  webhook   Signing and test deliveries

Server Commands:
  server start      Start the webhook server in foreground

Config Commands:
  config check      Validate configuration (optionally probe credentials)
  config show       Print the effective configuration with secrets redacted

Plugin Commands:
  plugin list       Show discovered plugins

Webhook Commands:
  webhook sign      Compute the signature header for a payload
  webhook send      Send a signed test delivery to a running gateway

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Without --config, settings are read from environment variables
(APP_ID, WEBHOOK_SECRET, PRIVATE_KEY, KMS_KEY_PATH, ...).

Use 'probot-gw <noun> help' for resource-specific flags.
`)
}

// --- server ---

func runServerNoun(args []string) int {
	if len(args) < 1 {
		printServerNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printServerNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printServerStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown server action: %s\n", action)
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default: environment only)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)
	logger := log.WithComponent("main")
	logger.Info("probot-gw starting",
		"version", currentVersionInfo().Version,
		"config", cfg.SourcePath,
		"credentials_mode", cfg.Credentials.Mode,
		"app", cfg.App.Name,
	)

	if cfg.Service.PIDFile != "" {
		pidFile, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire pid file", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer func() { _ = pidFile.Release() }()
	}

	gw, err := gateway.Build(cfg, log.Get())
	if err != nil {
		logger.Error("failed to assemble gateway", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("probot-gw running (press Ctrl+C to stop)", "listen", cfg.Server.Listen)
	if err := gw.Server.Start(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("probot-gw stopped")
	return 0
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default: environment only)")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	probe := fs.Bool("probe", false, "Fetch credentials once to verify key-management access")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := stderrLogger()
	plugins, err := gateway.DiscoverPlugins(cfg.PluginsDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery failed: %v\n", err)
		return 1
	}

	d := doctor.New(cfg, plugins, probot.NewRegistry().Names())
	result := d.Validate()

	if *probe && result.Valid {
		provider, err := kms.NewProvider(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build credentials provider: %v\n", err)
			return 1
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		d.Probe(ctx, provider, result)
		cancel()
	}

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (default: environment only)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	data, err := yaml.Marshal(redactConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// redactConfig returns a copy of cfg safe to print. The webhook secret is
// replaced by its fingerprint so two deployments can still be compared.
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Credentials.WebhookSecret != "" {
		out.Credentials.WebhookSecret = credentials.Fingerprint([]byte(cfg.Credentials.WebhookSecret))
	}
	if out.Credentials.PrivateKey != "" {
		out.Credentials.PrivateKey = redacted
	}
	if out.KMS.VaultToken != "" {
		out.KMS.VaultToken = redacted
	}
	return &out
}

// --- plugin ---

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		printPluginNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPluginNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printPluginListHelp()
			return 0
		}
		return runPluginList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", action)
		return 1
	}
}

type pluginSummary struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	App     string   `json:"app"`
	Events  []string `json:"events"`
	Timeout string   `json:"timeout"`
	Path    string   `json:"path"`
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dir := fs.String("dir", "", "Plugins directory (overrides config)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	pluginsDir := *dir
	if pluginsDir == "" {
		cfg, err := config.LoadOrEnv(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		pluginsDir = cfg.PluginsDir
	}
	if pluginsDir == "" {
		fmt.Fprintln(os.Stderr, "No plugins directory configured (set plugins_dir or pass --dir)")
		return 1
	}

	registry, err := gateway.DiscoverPlugins(pluginsDir, stderrLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery failed: %v\n", err)
		return 1
	}

	summaries := make([]pluginSummary, 0, len(registry.Names()))
	for _, name := range registry.Names() {
		p, _ := registry.Get(name)
		summaries = append(summaries, pluginSummary{
			Name:    p.Name,
			Version: p.Version,
			App:     config.PluginAppPrefix + p.Name,
			Events:  []string(p.Events),
			Timeout: p.Timeout.String(),
			Path:    p.Path,
		})
	}

	if *jsonOut {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(summaries) == 0 {
		fmt.Println("No plugins discovered.")
		return 0
	}
	for _, s := range summaries {
		fmt.Printf("%-20s %-10s timeout=%-6s events=%s\n", s.Name, s.Version, s.Timeout, strings.Join(s.Events, ","))
	}
	return 0
}

// --- webhook ---

func runWebhookNoun(args []string) int {
	if len(args) < 1 {
		printWebhookNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWebhookNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "sign":
		if hasHelpFlag(actionArgs) {
			printWebhookSignHelp()
			return 0
		}
		return runWebhookSign(actionArgs)
	case "send":
		if hasHelpFlag(actionArgs) {
			printWebhookSendHelp()
			return 0
		}
		return runWebhookSend(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown webhook action: %s\n", action)
		return 1
	}
}

func runWebhookSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secret := fs.String("secret", "", "Webhook secret (default: $WEBHOOK_SECRET)")
	file := fs.String("file", "", "Payload file (default: stdin)")
	sha256 := fs.Bool("sha256", false, "Produce an X-Hub-Signature-256 value")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	key, body, err := signingInputs(*secret, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if *sha256 {
		fmt.Println(webhook.Sign256(key, body))
	} else {
		fmt.Println(webhook.Sign(key, body))
	}
	return 0
}

func runWebhookSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	url := fs.String("url", "http://127.0.0.1:3000/", "Gateway URL")
	event := fs.String("event", "", "Event name for the X-GitHub-Event header")
	secret := fs.String("secret", "", "Webhook secret (default: $WEBHOOK_SECRET)")
	file := fs.String("file", "", "Payload file (default: stdin)")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *event == "" {
		fmt.Fprintln(os.Stderr, "--event is required")
		return 1
	}

	key, body, err := signingInputs(*secret, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid request: %v\n", err)
		return 1
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderEvent, *event)
	req.Header.Set(webhook.HeaderDelivery, deliveryID)
	req.Header.Set(webhook.HeaderSignature, webhook.Sign(key, body))
	req.Header.Set(webhook.HeaderSignature256, webhook.Sign256(key, body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delivery failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Printf("delivery %s: %s\n", deliveryID, resp.Status)
	if len(respBody) > 0 {
		fmt.Println(strings.TrimSpace(string(respBody)))
	}

	if resp.StatusCode >= 300 {
		return 1
	}
	return 0
}

// signingInputs resolves the secret and reads the payload.
func signingInputs(secret, file string) ([]byte, []byte, error) {
	if secret == "" {
		secret = os.Getenv(config.EnvWebhookSecret)
	}
	if secret == "" {
		return nil, nil, errors.New("no secret: pass --secret or set " + config.EnvWebhookSecret)
	}

	var (
		body []byte
		err  error
	)
	if file == "" || file == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return []byte(secret), body, nil
}

func stderrLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printServerNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: probot-gw server <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: probot-gw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printPluginNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: probot-gw plugin <action> [flags]")
	fmt.Fprintln(w, "Actions: list")
}

func printWebhookNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: probot-gw webhook <action> [flags]")
	fmt.Fprintln(w, "Actions: sign, send")
}

func printServerStartHelp() {
	fmt.Println("Usage: probot-gw server start [--config PATH]")
	fmt.Println("Start the webhook server in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: probot-gw config check [--config PATH] [--json] [--probe]")
	fmt.Println("Validate credentials, key-management and app settings.")
	fmt.Println("--probe fetches credentials once and prints the secret fingerprint.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Configuration valid")
	fmt.Println("  1  One or more errors")
}

func printConfigShowHelp() {
	fmt.Println("Usage: probot-gw config show [--config PATH]")
	fmt.Println("Print the effective configuration with secrets redacted.")
}

func printPluginListHelp() {
	fmt.Println("Usage: probot-gw plugin list [--config PATH | --dir DIR] [--json]")
	fmt.Println("Show plugins discovered under plugins_dir.")
}

func printWebhookSignHelp() {
	fmt.Println("Usage: probot-gw webhook sign [--secret S] [--file PATH] [--sha256]")
	fmt.Println("Print the signature header value for a payload.")
}

func printWebhookSendHelp() {
	fmt.Println("Usage: probot-gw webhook send --event NAME [--url URL] [--secret S] [--file PATH]")
	fmt.Println("POST a signed delivery to a running gateway and print the response.")
}
