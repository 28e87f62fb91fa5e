package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/probot-gw/internal/config"
)

const pemMarker = "-----BEGIN"

// Static provides credentials stored as plaintext in configuration.
type Static struct {
	cfg config.CredentialsConfig

	// KeyDir is searched for a single *.pem file when no key is configured.
	KeyDir string
}

// NewStatic creates a Static provider.
func NewStatic(cfg config.CredentialsConfig) *Static {
	return &Static{cfg: cfg, KeyDir: "."}
}

// Provide returns the configured credentials or ErrConfiguration.
func (s *Static) Provide(_ context.Context) (*Credentials, error) {
	if s.cfg.AppID == "" {
		return nil, fmt.Errorf("%w: app id", ErrConfiguration)
	}
	if s.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret", ErrConfiguration)
	}

	key, err := FindPrivateKey(s.cfg, s.KeyDir)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		AppID:         s.cfg.AppID,
		WebhookSecret: []byte(s.cfg.WebhookSecret),
		PrivateKey:    key,
	}, nil
}

// FindPrivateKey locates the App's signing key.
//
// Lookup order: inline private_key (PEM, or base64 of a PEM), private_key_path,
// then a single *.pem file in dir.
func FindPrivateKey(cfg config.CredentialsConfig, dir string) ([]byte, error) {
	if cfg.PrivateKey != "" {
		return decodeInlineKey(cfg.PrivateKey)
	}

	if cfg.PrivateKeyPath != "" {
		data, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: private key file: %v", ErrConfiguration, err)
		}
		return data, nil
	}

	if dir == "" {
		dir = "."
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil {
		return nil, fmt.Errorf("%w: private key search: %v", ErrConfiguration, err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: private key (set private_key, private_key_path, or place a .pem file in %s)",
			ErrConfiguration, dir)
	case 1:
		data, err := os.ReadFile(matches[0])
		if err != nil {
			return nil, fmt.Errorf("%w: private key file: %v", ErrConfiguration, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: found several private keys in %s, set private_key_path", ErrConfiguration, dir)
	}
}

// decodeInlineKey accepts a PEM with real or escaped newlines, or base64 of a PEM.
func decodeInlineKey(value string) ([]byte, error) {
	if strings.Contains(value, pemMarker) {
		return []byte(strings.ReplaceAll(value, `\n`, "\n")), nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err == nil && strings.Contains(string(decoded), pemMarker) {
		return decoded, nil
	}

	return nil, fmt.Errorf("%w: private key is neither PEM nor base64-encoded PEM", ErrConfiguration)
}
