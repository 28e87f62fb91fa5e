package config

import "time"

// Credential modes.
const (
	ModeStatic   = "static"
	ModeEnvelope = "envelope"
)

// KMS providers.
const (
	KMSProviderAWS   = "aws"
	KMSProviderVault = "vault"
)

// Config represents the complete probot-gw configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	KMS         KMSConfig         `yaml:"kms,omitempty"`
	App         AppConfig         `yaml:"app"`
	PluginsDir  string            `yaml:"plugins_dir,omitempty"`

	// SourcePath is the file the config was loaded from (empty for env-only config).
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// PIDFile, when set, holds an exclusive lock while the server runs.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// ServerConfig defines the webhook HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	MaxBodySize     string        `yaml:"max_body_size,omitempty"` // e.g. "1MB", "2048576"
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	Metrics         bool          `yaml:"metrics"`
}

// CredentialsConfig holds the GitHub App identity and secrets.
//
// In static mode WebhookSecret and PrivateKey are plaintext. In envelope mode
// they are ciphertext produced by the configured KMS: base64 for AWS, or a
// "vault:v1:..." transit token for Vault.
type CredentialsConfig struct {
	Mode           string `yaml:"mode"`
	AppID          string `yaml:"app_id"`
	WebhookSecret  string `yaml:"webhook_secret"`
	PrivateKey     string `yaml:"private_key,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
}

// KMSConfig selects and configures the key-management service used in envelope mode.
type KMSConfig struct {
	Provider string `yaml:"provider"`

	// KeyPath identifies the key that authorizes decryption
	// (AWS key id/ARN, or Vault transit key name).
	KeyPath string `yaml:"key_path"`

	// AWS
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// Vault
	VaultAddress string `yaml:"vault_address,omitempty"`
	VaultToken   string `yaml:"vault_token,omitempty"`
	VaultMount   string `yaml:"vault_mount,omitempty"`
}

// AppConfig names the application loaded into the runtime.
// Built-in names (e.g. "log") or "plugin:<name>" for a discovered plugin.
type AppConfig struct {
	Name string `yaml:"name"`
}

// Default values
const (
	DefaultListen          = "127.0.0.1:3000"
	DefaultMaxBodySize     = "25MB" // GitHub caps payloads at 25 MB
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultAppName         = "log"
	DefaultVaultMount      = "transit"
)
