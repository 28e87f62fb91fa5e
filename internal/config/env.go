package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by FromEnv.
const (
	EnvAppID           = "APP_ID"
	EnvWebhookSecret   = "WEBHOOK_SECRET"
	EnvPrivateKey      = "PRIVATE_KEY"
	EnvPrivateKeyPath  = "PRIVATE_KEY_PATH"
	EnvCredentialsMode = "CREDENTIALS_MODE"
	EnvKMSProvider     = "KMS_PROVIDER"
	EnvKMSKeyPath      = "KMS_KEY_PATH"
	EnvKMSEndpoint     = "KMS_ENDPOINT"
	EnvAWSRegion       = "AWS_REGION"
	EnvVaultAddress    = "VAULT_ADDR"
	EnvVaultToken      = "VAULT_TOKEN"
	EnvVaultMount      = "VAULT_TRANSIT_MOUNT"
	EnvApp             = "PROBOT_APP"
	EnvPluginsDir      = "PLUGINS_DIR"
	EnvListen          = "LISTEN_ADDR"
	EnvPort            = "PORT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvMetrics         = "METRICS"
)

// FromEnv builds a configuration from process environment variables only.
// This is the zero-file mode used by serverless deployments.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			LogLevel:  os.Getenv(EnvLogLevel),
			LogFormat: os.Getenv(EnvLogFormat),
		},
		Server: ServerConfig{
			Listen: os.Getenv(EnvListen),
		},
		Credentials: CredentialsConfig{
			Mode:           os.Getenv(EnvCredentialsMode),
			AppID:          os.Getenv(EnvAppID),
			WebhookSecret:  os.Getenv(EnvWebhookSecret),
			PrivateKey:     os.Getenv(EnvPrivateKey),
			PrivateKeyPath: os.Getenv(EnvPrivateKeyPath),
		},
		KMS: KMSConfig{
			Provider:     os.Getenv(EnvKMSProvider),
			KeyPath:      os.Getenv(EnvKMSKeyPath),
			Region:       os.Getenv(EnvAWSRegion),
			Endpoint:     os.Getenv(EnvKMSEndpoint),
			VaultAddress: os.Getenv(EnvVaultAddress),
			VaultToken:   os.Getenv(EnvVaultToken),
			VaultMount:   os.Getenv(EnvVaultMount),
		},
		App:        AppConfig{Name: os.Getenv(EnvApp)},
		PluginsDir: os.Getenv(EnvPluginsDir),
	}

	if cfg.Server.Listen == "" {
		if port := os.Getenv(EnvPort); port != "" {
			cfg.Server.Listen = ":" + port
		}
	}

	// KMS_KEY_PATH alone implies envelope mode.
	if cfg.Credentials.Mode == "" && cfg.KMS.KeyPath != "" {
		cfg.Credentials.Mode = ModeEnvelope
		if cfg.KMS.Provider == "" {
			cfg.KMS.Provider = KMSProviderAWS
		}
	}

	if v := os.Getenv(EnvMetrics); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", EnvMetrics, v, err)
		}
		cfg.Server.Metrics = enabled
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
