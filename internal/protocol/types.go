package protocol

import "time"

// Version is the only protocol version spoken with plugin executables.
const Version = 1

// CommandHandle asks a plugin to handle one webhook event.
const CommandHandle = "handle"

// Request represents the request envelope sent to plugins via stdin.
type Request struct {
	Protocol   int            `json:"protocol"`
	Command    string         `json:"command"`
	AppID      string         `json:"app_id"`
	Config     map[string]any `json:"config,omitempty"`
	Event      *Event         `json:"event,omitempty"`
	DeadlineAt time.Time      `json:"deadline_at"`
}

// Response represents the response envelope received from plugins via stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// Event is a webhook delivery as seen by a plugin.
type Event struct {
	Name       string         `json:"name"`
	Action     string         `json:"action,omitempty"`
	DeliveryID string         `json:"delivery_id"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// OK reports whether the plugin handled the event successfully.
func (r *Response) OK() bool {
	return r.Status == "ok"
}
