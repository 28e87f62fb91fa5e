package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults returns a config with every default applied and no credentials.
func Defaults() *Config {
	return applyConfigDefaults(&Config{})
}

// Load reads and parses configuration from a YAML file.
// ${VAR} references are replaced with environment values before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrEnv loads configPath when set, otherwise builds the config from
// environment variables alone.
func LoadOrEnv(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	return FromEnv()
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "probot-gw"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = "json"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.MaxBodySize == "" {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Credentials.Mode == "" {
		cfg.Credentials.Mode = ModeStatic
	}
	if cfg.KMS.Provider == KMSProviderVault && cfg.KMS.VaultMount == "" {
		cfg.KMS.VaultMount = DefaultVaultMount
	}
	if cfg.App.Name == "" {
		cfg.App.Name = DefaultAppName
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// are left as-is so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks structural settings only. Missing credentials are reported
// when the runtime is first initialized, not here.
func validate(cfg *Config) error {
	switch cfg.Credentials.Mode {
	case ModeStatic:
	case ModeEnvelope:
		switch cfg.KMS.Provider {
		case KMSProviderAWS, KMSProviderVault:
		case "":
			return fmt.Errorf("kms.provider is required when credentials.mode is %q", ModeEnvelope)
		default:
			return fmt.Errorf("kms.provider %q is not supported (must be %q or %q)",
				cfg.KMS.Provider, KMSProviderAWS, KMSProviderVault)
		}
	default:
		return fmt.Errorf("credentials.mode %q is not supported (must be %q or %q)",
			cfg.Credentials.Mode, ModeStatic, ModeEnvelope)
	}

	if _, err := ParseSize(cfg.Server.MaxBodySize); err != nil {
		return fmt.Errorf("server.max_body_size %q: %w", cfg.Server.MaxBodySize, err)
	}

	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if strings.HasPrefix(cfg.App.Name, PluginAppPrefix) && cfg.PluginsDir == "" {
		return fmt.Errorf("app %q requires plugins_dir", cfg.App.Name)
	}

	return nil
}

// PluginAppPrefix marks an app name that refers to a discovered plugin.
const PluginAppPrefix = "plugin:"

// ParseSize parses size strings like "1MB", "512KB", "2048576" to bytes.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return 0, fmt.Errorf("size is empty")
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// MaxBodyBytes returns the parsed server.max_body_size.
func (c *Config) MaxBodyBytes() int64 {
	n, err := ParseSize(c.Server.MaxBodySize)
	if err != nil {
		n, _ = ParseSize(DefaultMaxBodySize)
	}
	return n
}
