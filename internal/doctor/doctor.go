// Package doctor validates probot-gw configuration before the server starts.
package doctor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/credentials"
	"github.com/mattjoyce/probot-gw/internal/plugin"
)

// githubTimeout is how long GitHub waits for a delivery response.
const githubTimeout = 10 * time.Second

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`

	// SecretFingerprint identifies the webhook secret loaded by a probe.
	SecretFingerprint string `json:"secret_fingerprint,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered plugins and known apps.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry
	apps     []string
}

// New creates a Doctor. registry may be nil when no plugins_dir is configured;
// apps lists the built-in app names.
func New(cfg *config.Config, registry *plugin.Registry, apps []string) *Doctor {
	if registry == nil {
		registry = plugin.NewRegistry()
	}
	return &Doctor{cfg: cfg, registry: registry, apps: apps}
}

// Validate runs all static checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCredentials(r)
	d.validateKMS(r)
	d.validateApp(r)
	d.validateServer(r)
	d.warnUnusedPlugins(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Probe calls the provider once, so key-management access and key material
// are checked end to end. Only the secret's fingerprint is recorded.
func (d *Doctor) Probe(ctx context.Context, provider credentials.Provider, r *Result) {
	creds, err := provider.Provide(ctx)
	if err != nil {
		d.addError(r, "probe", "", fmt.Sprintf("credentials could not be provided: %v", err))
		r.Valid = false
		return
	}
	r.SecretFingerprint = credentials.Fingerprint(creds.WebhookSecret)
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCredentials checks that identity, secret and key material are present.
func (d *Doctor) validateCredentials(r *Result) {
	c := d.cfg.Credentials
	if strings.TrimSpace(c.AppID) == "" {
		d.addError(r, "credentials", "credentials.app_id", "app_id is required")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		d.addError(r, "credentials", "credentials.webhook_secret", "webhook_secret is required")
	}

	switch c.Mode {
	case config.ModeStatic:
		dir := "."
		if d.cfg.SourcePath != "" {
			dir = filepath.Dir(d.cfg.SourcePath)
		}
		if _, err := credentials.FindPrivateKey(c, dir); err != nil {
			d.addError(r, "credentials", "credentials.private_key", err.Error())
		}
		if len(c.WebhookSecret) > 0 && len(c.WebhookSecret) < 16 {
			d.addWarning(r, "credentials", "credentials.webhook_secret",
				"webhook secret is shorter than 16 characters")
		}
	case config.ModeEnvelope:
		for field, value := range map[string]string{
			"credentials.webhook_secret": c.WebhookSecret,
			"credentials.private_key":    c.PrivateKey,
		} {
			if strings.TrimSpace(value) == "" {
				if field == "credentials.private_key" {
					d.addError(r, "credentials", field, "encrypted private_key is required in envelope mode")
				}
				continue
			}
			value = strings.TrimSpace(value)
			if strings.HasPrefix(value, credentials.VaultCiphertextPrefix) {
				if d.cfg.KMS.Provider != config.KMSProviderVault {
					d.addWarning(r, "credentials", field, "vault transit ciphertext with a non-vault kms provider")
				}
				continue
			}
			if _, err := base64.StdEncoding.DecodeString(value); err != nil {
				d.addError(r, "credentials", field, "ciphertext is not valid base64")
			}
		}
		if c.PrivateKeyPath != "" {
			d.addWarning(r, "credentials", "credentials.private_key_path",
				"private_key_path is ignored in envelope mode")
		}
	}
}

// validateKMS checks provider-specific settings in envelope mode.
func (d *Doctor) validateKMS(r *Result) {
	if d.cfg.Credentials.Mode != config.ModeEnvelope {
		return
	}
	k := d.cfg.KMS
	if k.KeyPath == "" {
		d.addError(r, "kms", "kms.key_path", "key_path is required in envelope mode")
	}

	switch k.Provider {
	case config.KMSProviderAWS:
		if k.Region == "" && os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
			d.addWarning(r, "kms", "kms.region",
				"no region configured; the AWS SDK default chain must supply one")
		}
	case config.KMSProviderVault:
		if k.VaultAddress == "" && os.Getenv("VAULT_ADDR") == "" {
			d.addError(r, "kms", "kms.vault_address", "vault_address is required for the vault provider")
		}
		if k.VaultToken == "" && os.Getenv("VAULT_TOKEN") == "" {
			d.addWarning(r, "kms", "kms.vault_token", "no vault token configured")
		}
	}
}

// validateApp checks that the configured app resolves.
func (d *Doctor) validateApp(r *Result) {
	name := d.cfg.App.Name
	if pluginName, ok := strings.CutPrefix(name, config.PluginAppPrefix); ok {
		p, found := d.registry.Get(pluginName)
		if !found {
			d.addError(r, "app", "app.name",
				fmt.Sprintf("app %q targets plugin %q which was not discovered", name, pluginName))
			return
		}
		if wt := d.cfg.Server.WriteTimeout; wt > 0 && p.Timeout >= wt {
			d.addWarning(r, "server", "server.write_timeout",
				fmt.Sprintf("plugin %q timeout %s is not shorter than write_timeout %s; responses may be cut off", pluginName, p.Timeout, wt))
		}
		return
	}
	for _, known := range d.apps {
		if known == name {
			return
		}
	}
	d.addError(r, "app", "app.name",
		fmt.Sprintf("unknown app %q (built-in: %s)", name, strings.Join(d.apps, ", ")))
}

// validateServer flags listener settings likely to cause failed deliveries.
func (d *Doctor) validateServer(r *Result) {
	s := d.cfg.Server
	if s.WriteTimeout > 0 && s.WriteTimeout < githubTimeout {
		d.addWarning(r, "server", "server.write_timeout",
			fmt.Sprintf("write_timeout %s is shorter than GitHub's %s delivery timeout", s.WriteTimeout, githubTimeout))
	}
	if n := d.cfg.MaxBodyBytes(); n < 1<<20 {
		d.addWarning(r, "server", "server.max_body_size",
			fmt.Sprintf("max_body_size %s may reject large push or pull_request payloads", s.MaxBodySize))
	}
}

// warnUnusedPlugins warns about discovered plugins the configured app does not use.
func (d *Doctor) warnUnusedPlugins(r *Result) {
	active := strings.TrimPrefix(d.cfg.App.Name, config.PluginAppPrefix)
	for _, name := range d.registry.Names() {
		if name != active {
			d.addWarning(r, "unused", "",
				fmt.Sprintf("plugin %q discovered but not configured as the app", name))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"credentials.app_id":         d.cfg.Credentials.AppID,
		"credentials.webhook_secret": d.cfg.Credentials.WebhookSecret,
		"credentials.private_key":    d.cfg.Credentials.PrivateKey,
		"kms.key_path":               d.cfg.KMS.KeyPath,
		"kms.vault_token":            d.cfg.KMS.VaultToken,
	}
	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	styleDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString(styleOK.Render("Configuration valid."))
		b.WriteString("\n")
	case r.Valid:
		b.WriteString(styleOK.Render("Configuration valid"))
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	default:
		b.WriteString(styleError.Render("Configuration invalid"))
		fmt.Fprintf(&b, " (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, styleError.Render("ERROR"), e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, styleWarn.Render("WARN "), w)
	}
	if r.SecretFingerprint != "" {
		fmt.Fprintf(&b, "  %s %s\n", styleDim.Render("webhook secret"), r.SecretFingerprint)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
