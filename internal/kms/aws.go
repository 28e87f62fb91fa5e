package kms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awskms "github.com/aws/aws-sdk-go/service/kms"
)

// decryptAPI is the subset of the AWS KMS client used here.
type decryptAPI interface {
	DecryptWithContext(ctx aws.Context, input *awskms.DecryptInput, opts ...request.Option) (*awskms.DecryptOutput, error)
}

// AWS decrypts ciphertext blobs with AWS KMS.
type AWS struct {
	client decryptAPI
	log    *slog.Logger
}

// NewAWS creates an AWS KMS decrypter. Credentials come from the default
// provider chain (environment, shared config, instance or task role).
func NewAWS(region, endpoint string, log *slog.Logger) (*AWS, error) {
	cfg := aws.Config{MaxRetries: aws.Int(0)}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWS{client: awskms.New(sess), log: log}, nil
}

// Decrypt implements credentials.Decrypter. keyPath is the key id or ARN the
// ciphertext was encrypted under.
func (a *AWS) Decrypt(ctx context.Context, keyPath string, ciphertext []byte) ([]byte, error) {
	start := time.Now()

	input := &awskms.DecryptInput{CiphertextBlob: ciphertext}
	if keyPath != "" {
		input.KeyId = aws.String(keyPath)
	}

	out, err := a.client.DecryptWithContext(ctx, input)
	if err != nil {
		a.log.Error("KMS decrypt failed", slog.String("key", keyPath), "err", err)
		return nil, fmt.Errorf("aws kms decrypt: %w", err)
	}
	if out == nil || len(out.Plaintext) == 0 {
		return nil, fmt.Errorf("aws kms decrypt: empty plaintext")
	}

	a.log.Debug("KMS decrypt succeeded",
		slog.String("key", keyPath),
		slog.Duration("duration", time.Since(start)))

	return out.Plaintext, nil
}
