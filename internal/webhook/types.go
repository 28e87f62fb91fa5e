package webhook

import (
	"context"

	"github.com/mattjoyce/probot-gw/internal/probot"
)

// RuntimeSource hands out the initialized runtime, building it if needed.
// *probot.Initializer implements it.
type RuntimeSource interface {
	Ensure(ctx context.Context) (*probot.Probot, error)
}

// Delivery is one inbound webhook request, extracted from the transport.
type Delivery struct {
	Event       string
	DeliveryID  string
	Signature   string
	ContentType string
	RawBody     []byte
	Payload     map[string]any
}
