package webhook

import (
	"encoding/json"
	"net/http"
)

// Kind enumerates dispatch outcomes.
type Kind int

const (
	KindHomepage Kind = iota
	KindRejected
	KindMissingEvent
	KindMalformed
	KindTooLarge
	KindInitFailed
	KindDelivered
	KindFailed
)

var kindNames = map[Kind]string{
	KindHomepage:     "homepage",
	KindRejected:     "rejected",
	KindMissingEvent: "missing_event",
	KindMalformed:    "malformed",
	KindTooLarge:     "too_large",
	KindInitFailed:   "init_failed",
	KindDelivered:    "delivered",
	KindFailed:       "failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the result of dispatching one request. Exactly one is produced
// per request and handed to Map.
type Outcome struct {
	Kind   Kind
	Reason string // Rejected, Malformed
	Err    error  // Failed, InitFailed
}

func Homepage() Outcome { return Outcome{Kind: KindHomepage} }
func Rejected(reason string) Outcome { return Outcome{Kind: KindRejected, Reason: reason} }
func MissingEvent() Outcome { return Outcome{Kind: KindMissingEvent} }
func Malformed(reason string) Outcome { return Outcome{Kind: KindMalformed, Reason: reason} }
func TooLarge() Outcome { return Outcome{Kind: KindTooLarge} }
func InitFailed(err error) Outcome { return Outcome{Kind: KindInitFailed, Err: err} }
func Delivered() Outcome { return Outcome{Kind: KindDelivered} }
func Failed(err error) Outcome { return Outcome{Kind: KindFailed, Err: err} }

// Response is a transport-neutral HTTP response description.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// MessageBody is the JSON body of delivered and failed responses.
type MessageBody struct {
	Message string `json:"message"`
}

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"

	messageExecuted   = "Executed"
	messageInitFailed = "runtime initialization failed"
)

// Map translates an outcome into the response to send. It has no side effects.
//
// Initialization errors are not echoed to the caller; they may name
// configuration or key-management details.
func Map(o Outcome) Response {
	switch o.Kind {
	case KindHomepage:
		return Response{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {contentTypeHTML}},
			Body:   homepage,
		}
	case KindRejected, KindMissingEvent, KindMalformed:
		return Response{Status: http.StatusBadRequest, Header: http.Header{}}
	case KindTooLarge:
		return Response{Status: http.StatusRequestEntityTooLarge, Header: http.Header{}}
	case KindDelivered:
		return jsonResponse(http.StatusOK, messageExecuted)
	case KindFailed:
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		return jsonResponse(http.StatusInternalServerError, msg)
	case KindInitFailed:
		return jsonResponse(http.StatusInternalServerError, messageInitFailed)
	default:
		return jsonResponse(http.StatusInternalServerError, "unknown outcome")
	}
}

func jsonResponse(status int, message string) Response {
	body, err := json.Marshal(MessageBody{Message: message})
	if err != nil {
		body = []byte(`{"message":"internal error"}`)
	}
	return Response{
		Status: status,
		Header: http.Header{"Content-Type": {contentTypeJSON}},
		Body:   body,
	}
}

// Write sends r on w.
func (r Response) Write(w http.ResponseWriter) {
	for name, values := range r.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		w.Write(r.Body)
	}
}
