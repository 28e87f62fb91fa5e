package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/probot-gw/internal/config"
)

// VaultCiphertextPrefix marks a Vault transit ciphertext token. Such values
// are handed to the decrypter as written; anything else is base64.
const VaultCiphertextPrefix = "vault:"

// Envelope provides credentials whose secret and key are stored as
// ciphertext and decrypted through a key-management service. AWS KMS
// blobs are base64 encoded; Vault transit tokens are kept verbatim.
type Envelope struct {
	cfg       config.CredentialsConfig
	keyPath   string
	decrypter Decrypter
}

// NewEnvelope creates an Envelope provider. keyPath identifies the KMS key
// authorized to decrypt both values.
func NewEnvelope(cfg config.CredentialsConfig, keyPath string, d Decrypter) *Envelope {
	return &Envelope{cfg: cfg, keyPath: keyPath, decrypter: d}
}

// Provide decrypts the webhook secret and private key in parallel. Both
// decryptions must succeed; any failure fails the whole call.
func (e *Envelope) Provide(ctx context.Context) (*Credentials, error) {
	if e.cfg.AppID == "" {
		return nil, fmt.Errorf("%w: app id", ErrConfiguration)
	}
	if e.keyPath == "" {
		return nil, fmt.Errorf("%w: kms key path", ErrConfiguration)
	}
	if e.decrypter == nil {
		return nil, fmt.Errorf("%w: kms client", ErrConfiguration)
	}

	secretCT, err := decodeCiphertext("webhook secret", e.cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}
	keyCT, err := decodeCiphertext("private key", e.cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	var secret, key []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pt, err := e.decrypt(gctx, "webhook secret", secretCT)
		secret = pt
		return err
	})
	g.Go(func() error {
		pt, err := e.decrypt(gctx, "private key", keyCT)
		key = pt
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Credentials{
		AppID:         e.cfg.AppID,
		WebhookSecret: secret,
		PrivateKey:    key,
	}, nil
}

func (e *Envelope) decrypt(ctx context.Context, what string, ciphertext []byte) ([]byte, error) {
	plaintext, err := e.decrypter.Decrypt(ctx, e.keyPath, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecryption, what, err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: %s: empty plaintext", ErrDecryption, what)
	}
	return plaintext, nil
}

func decodeCiphertext(what, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: encrypted %s", ErrConfiguration, what)
	}
	if strings.HasPrefix(value, VaultCiphertextPrefix) {
		return []byte(value), nil
	}
	ct, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypted %s is not base64: %v", ErrConfiguration, what, err)
	}
	return ct, nil
}
