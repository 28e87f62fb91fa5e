package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// Vault decrypts ciphertext with the Vault transit secrets engine.
type Vault struct {
	client *api.Client
	mount  string
	log    *slog.Logger
}

// NewVault creates a Vault transit decrypter.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; empty keeps whatever the client picked up from VAULT_TOKEN
//   - mount: transit mount path (e.g. "transit")
func NewVault(address, token, mount string, log *slog.Logger) (*Vault, error) {
	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}
	// Failures surface to the caller; the next delivery retries initialization.
	config.MaxRetries = 0

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mount = strings.Trim(mount, "/")
	if mount == "" {
		mount = "transit"
	}

	return &Vault{client: client, mount: mount, log: log}, nil
}

// Decrypt implements credentials.Decrypter. keyPath is the transit key name and
// ciphertext is the "vault:v1:..." token produced by transit encrypt.
func (v *Vault) Decrypt(ctx context.Context, keyPath string, ciphertext []byte) ([]byte, error) {
	start := time.Now()
	path := fmt.Sprintf("%s/decrypt/%s", v.mount, strings.Trim(keyPath, "/"))

	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": strings.TrimSpace(string(ciphertext)),
	})
	if err != nil {
		v.log.Error("Vault transit decrypt failed", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("vault transit decrypt: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit decrypt: empty response")
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("vault transit decrypt: plaintext missing from response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: plaintext is not base64: %w", err)
	}

	v.log.Debug("Vault transit decrypt succeeded",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return plaintext, nil
}
