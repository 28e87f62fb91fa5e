package webhook

import (
	"net/http"
	"strings"
)

// GitHub delivery headers.
const (
	HeaderEvent        = "X-GitHub-Event"
	HeaderDelivery     = "X-GitHub-Delivery"
	HeaderSignature    = "X-Hub-Signature"
	HeaderSignature256 = "X-Hub-Signature-256"
)

// Headers is a case-insensitive view over request headers.
//
// Transports differ in how they present names: net/http canonicalizes them,
// while API Gateway events and some proxies deliver them lowercased or as-is.
type Headers map[string][]string

// NewHeaders builds Headers from any name→values mapping.
func NewHeaders(h map[string][]string) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		out[key] = append(out[key], values...)
	}
	return out
}

// FromHTTP builds Headers from an http.Header.
func FromHTTP(h http.Header) Headers {
	return NewHeaders(h)
}

// Get returns the first value for name, ignoring case.
func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Event returns the X-GitHub-Event value.
func (h Headers) Event() string {
	return strings.TrimSpace(h.Get(HeaderEvent))
}

// DeliveryID returns the X-GitHub-Delivery value.
func (h Headers) DeliveryID() string {
	return strings.TrimSpace(h.Get(HeaderDelivery))
}

// Signature returns the signature to verify, preferring X-Hub-Signature-256.
func (h Headers) Signature() string {
	if sig := h.Get(HeaderSignature256); sig != "" {
		return sig
	}
	return h.Get(HeaderSignature)
}
