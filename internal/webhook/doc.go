// Package webhook receives GitHub webhook deliveries, authenticates them, and
// hands verified events to the runtime.
//
// # Security Model
//
// - HMAC signatures ("sha1=" or "sha256=") verified with a constant-time comparison
// - Verification runs over the exact raw body bytes, before any parsing
// - Body size limits enforced (413 when exceeded)
// - Rejections return 400 with an empty body and never reach the runtime
// - Secrets and payload contents are never logged
//
// # Request Flow
//
//  1. GET /probot returns the static homepage; nothing else runs
//  2. The runtime is initialized on first use (credentials provided, app loaded)
//  3. Event, delivery id and signature are read from headers, ignoring case
//  4. Body read, bounded by max_body_size
//  5. Signature verified against the runtime's webhook secret
//  6. Payload parsed and passed to the runtime's Receive
//
// # Responses
//
// - 200 text/html: homepage
// - 200 {"message":"Executed"}: every handler succeeded
// - 400 (empty): bad or missing signature, missing event name, malformed payload
// - 413 (empty): body too large
// - 500 {"message":"<error>"}: a handler failed, or the runtime could not be initialized
//
// Nothing is retried here. GitHub redelivers on failure.
package webhook
