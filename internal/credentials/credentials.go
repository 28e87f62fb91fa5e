// Package credentials produces the GitHub App identity, webhook secret and
// signing key the runtime is initialized with.
//
// Two providers satisfy the same contract:
//
//   - Static reads plaintext values from configuration.
//   - Envelope reads ciphertext from configuration and decrypts the secret and
//     the key concurrently through a key-management service.
//
// Neither provider ever returns partial credentials.
package credentials

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
)

//go:generate mockgen -destination=mocks/mock_credentials.go -package=mocks github.com/mattjoyce/probot-gw/internal/credentials Provider,Decrypter

var (
	// ErrConfiguration reports that a required credential is absent from configuration.
	ErrConfiguration = errors.New("credentials: missing configuration")

	// ErrDecryption reports that the key-management service failed or returned
	// unusable plaintext.
	ErrDecryption = errors.New("credentials: decryption failed")
)

// Credentials is the immutable triple the runtime is built from.
type Credentials struct {
	AppID         string
	WebhookSecret []byte
	PrivateKey    []byte
}

// Provider produces credentials.
type Provider interface {
	Provide(ctx context.Context) (*Credentials, error)
}

// Decrypter is the key-management collaborator used by Envelope.
// keyPath identifies the key authorized to decrypt ciphertext.
type Decrypter interface {
	Decrypt(ctx context.Context, keyPath string, ciphertext []byte) ([]byte, error)
}

// Fingerprint returns a short BLAKE3 digest identifying a secret in logs
// without revealing it.
func Fingerprint(secret []byte) string {
	if len(secret) == 0 {
		return ""
	}
	sum := blake3.Sum256(secret)
	return "blake3:" + hex.EncodeToString(sum[:8])
}
