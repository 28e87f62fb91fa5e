package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// Signature prefixes GitHub uses for X-Hub-Signature and X-Hub-Signature-256.
const (
	PrefixSHA1   = "sha1="
	PrefixSHA256 = "sha256="
)

type algorithm struct {
	prefix string
	size   int
	newFn  func() hash.Hash
}

var algorithms = []algorithm{
	{prefix: PrefixSHA256, size: sha256.Size, newFn: sha256.New},
	{prefix: PrefixSHA1, size: sha1.Size, newFn: sha1.New},
}

// Verify reports whether claimed is a valid signature of body under secret.
//
// claimed must be "sha1=<40 hex>" or "sha256=<64 hex>". The comparison uses
// hmac.Equal, which is constant-time. Verify never panics and returns false
// for an empty secret, a missing or malformed signature, or a mismatch.
func Verify(secret, body []byte, claimed string) bool {
	if len(secret) == 0 || claimed == "" {
		return false
	}

	for _, alg := range algorithms {
		hexSig, ok := strings.CutPrefix(claimed, alg.prefix)
		if !ok {
			continue
		}
		if len(hexSig) != hex.EncodedLen(alg.size) {
			return false
		}
		actualMAC, err := hex.DecodeString(hexSig)
		if err != nil {
			return false
		}
		return hmac.Equal(computeMAC(alg.newFn, secret, body), actualMAC)
	}

	return false
}

// Sign returns the X-Hub-Signature value ("sha1=<hex>") for body.
func Sign(secret, body []byte) string {
	return PrefixSHA1 + hex.EncodeToString(computeMAC(sha1.New, secret, body))
}

// Sign256 returns the X-Hub-Signature-256 value ("sha256=<hex>") for body.
func Sign256(secret, body []byte) string {
	return PrefixSHA256 + hex.EncodeToString(computeMAC(sha256.New, secret, body))
}

func computeMAC(newFn func() hash.Hash, secret, body []byte) []byte {
	mac := hmac.New(newFn, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
