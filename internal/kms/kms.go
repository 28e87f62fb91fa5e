// Package kms implements credentials.Decrypter on top of external
// key-management services: AWS KMS and the HashiCorp Vault transit engine.
package kms

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mattjoyce/probot-gw/internal/config"
	"github.com/mattjoyce/probot-gw/internal/credentials"
)

// New returns the Decrypter selected by cfg.Provider.
func New(cfg config.KMSConfig, log *slog.Logger) (credentials.Decrypter, error) {
	switch cfg.Provider {
	case config.KMSProviderAWS:
		return NewAWS(cfg.Region, cfg.Endpoint, log)
	case config.KMSProviderVault:
		return NewVault(cfg.VaultAddress, cfg.VaultToken, cfg.VaultMount, log)
	default:
		return nil, fmt.Errorf("unsupported kms provider %q", cfg.Provider)
	}
}

// NewProvider builds the credentials.Provider for the configured mode.
func NewProvider(cfg *config.Config, log *slog.Logger) (credentials.Provider, error) {
	switch cfg.Credentials.Mode {
	case config.ModeStatic:
		s := credentials.NewStatic(cfg.Credentials)
		if cfg.SourcePath != "" {
			s.KeyDir = filepath.Dir(cfg.SourcePath)
		}
		return s, nil
	case config.ModeEnvelope:
		d, err := New(cfg.KMS, log)
		if err != nil {
			return nil, err
		}
		return credentials.NewEnvelope(cfg.Credentials, cfg.KMS.KeyPath, d), nil
	default:
		return nil, fmt.Errorf("unsupported credentials mode %q", cfg.Credentials.Mode)
	}
}
