package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/probot-gw/internal/metrics"
	"github.com/mattjoyce/probot-gw/internal/probot"
)

// DefaultMaxBodySize bounds request bodies when no limit is configured.
const DefaultMaxBodySize = 25 << 20

var errBodyTooLarge = errors.New("request body too large")

// Dispatcher is the webhook request handler.
type Dispatcher struct {
	runtime     RuntimeSource
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxBodySize int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records delivery outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMaxBodySize bounds request bodies to n bytes.
func WithMaxBodySize(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBodySize = n
		}
	}
}

// NewDispatcher creates a Dispatcher that hands verified events to runtime.
func NewDispatcher(runtime RuntimeSource, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		runtime:     runtime,
		logger:      logger,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := d.Dispatch(r)
	d.metrics.Delivery(outcome.Kind.String())

	if outcome.Kind != KindHomepage {
		d.logger.Debug("dispatch complete", "outcome", outcome.Kind.String(), "duration_ms", time.Since(start).Milliseconds())
	}
	Map(outcome).Write(w)
}

// Dispatch runs one request through the pipeline and returns its outcome.
//
// The homepage probe never touches credentials or the runtime. Every other
// request initializes the runtime first, then verifies the signature over the
// raw body before anything is parsed or handed to the runtime.
func (d *Dispatcher) Dispatch(r *http.Request) Outcome {
	if r.Method == http.MethodGet && r.URL.Path == HomepagePath {
		return Homepage()
	}

	// Processing runs to completion even if the sender disconnects.
	ctx := context.WithoutCancel(r.Context())

	rt, err := d.runtime.Ensure(ctx)
	if err != nil {
		d.logger.Error("runtime initialization failed", "error", err)
		d.metrics.InitFailed()
		return InitFailed(err)
	}

	headers := FromHTTP(r.Header)
	body, err := readBody(r.Body, d.maxBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			d.logger.Info("webhook rejected", "reason", "body too large", "limit", d.maxBodySize)
			return TooLarge()
		}
		d.logger.Info("webhook rejected", "reason", "unreadable body", "error", err)
		return Malformed("unreadable body")
	}

	return d.deliver(ctx, rt, &Delivery{
		Event:       headers.Event(),
		DeliveryID:  headers.DeliveryID(),
		Signature:   headers.Signature(),
		ContentType: headers.Get("Content-Type"),
		RawBody:     body,
	})
}

func (d *Dispatcher) deliver(ctx context.Context, rt *probot.Probot, del *Delivery) Outcome {
	if del.DeliveryID == "" {
		del.DeliveryID = uuid.NewString()
	}
	logger := d.logger.With("event", del.Event, "delivery_id", del.DeliveryID)

	if !Verify(rt.Secret(), del.RawBody, del.Signature) {
		reason := "signature does not match event payload and secret"
		if del.Signature == "" {
			reason = "missing signature"
		}
		logger.Info("webhook rejected", "reason", reason)
		return Rejected(reason)
	}

	if del.Event == "" {
		logger.Warn("webhook rejected", "reason", "missing event name")
		return MissingEvent()
	}

	payload, err := decodePayload(del.ContentType, del.RawBody)
	if err != nil {
		logger.Info("webhook rejected", "reason", "malformed payload", "error", err)
		return Malformed(err.Error())
	}
	del.Payload = payload

	ev := probot.Event{
		Name:    del.Event,
		ID:      del.DeliveryID,
		Payload: del.Payload,
	}
	logger.Info("received event", "qualified", ev.Qualified())
	d.metrics.Event(del.Event)

	if err := rt.Receive(ctx, ev); err != nil {
		logger.Error("event handling failed", "error", err)
		return Failed(err)
	}

	return Delivered()
}

// readBody reads at most limit bytes, failing with errBodyTooLarge beyond that.
func readBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodePayload parses the verified body. GitHub sends either JSON or a
// form-encoded body whose "payload" field holds the JSON document.
func decodePayload(contentType string, body []byte) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form body: %w", err)
		}
		body = []byte(form.Get("payload"))
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return payload, nil
}
