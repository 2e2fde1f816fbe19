// Package envelope defines the protocol-neutral message shapes exchanged over
// the broker: the canonical request envelope, the reply, and the fault
// descriptor that normalises backend failures across transports.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orderlink/orderlink/internal/jsoncodec"
)

// Metadata keys reserved by the request/reply protocol.
const (
	MetadataKeyCorrelationID = "correlation_id"
	MetadataKeyReplyTo       = "reply_to"
	MetadataKeyEnqueuedAt    = "enqueued_at"
	MetadataKeyStatusCode    = "status_code"
)

// Queue names for the backend workers. Adapters publish here; workers consume.
const (
	QueueWarehouse = "warehouse.requests"
	QueueRouting   = "routing.requests"
	QueueClients   = "clients.requests"
)

// Reply statuses carried in the reply payload.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Envelope is the canonical request sent over the broker. Type must map to
// exactly one worker-side handler; unknown types produce an explicit
// unsupported-operation fault, never a silent drop.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// New builds an envelope for the given operation type, marshalling data as the
// payload and stamping the current time.
func New(opType string, data any) (Envelope, error) {
	raw, err := jsoncodec.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal data: %w", err)
	}
	return Envelope{
		Type:      opType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// UnmarshalFrame parses a raw JSON frame into the envelope and checks the
// minimal shape: envelopes without a type cannot be routed.
func (e *Envelope) UnmarshalFrame(payload []byte) error {
	if err := jsoncodec.Unmarshal(payload, e); err != nil {
		return fmt.Errorf("envelope: decode frame: %w", err)
	}
	if e.Type == "" {
		return NewValidationError("envelope is missing a type")
	}
	return nil
}

// NewRaw builds an envelope around an already encoded JSON payload.
func NewRaw(opType string, data json.RawMessage) Envelope {
	return Envelope{
		Type:      opType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope: empty data for type %q", e.Type)
	}
	if err := jsoncodec.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("envelope: decode data for type %q: %w", e.Type, err)
	}
	return nil
}

// Reply is the worker response delivered on the reply channel. Payload is the
// raw reply body; Metadata carries protocol hints such as the mirrored HTTP
// status code.
type Reply struct {
	CorrelationID string
	Payload       []byte
	Metadata      map[string]string
}

// replyBody is the canonical reply shape on the wire.
type replyBody struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Fault extracts the fault descriptor from an ERROR reply. It returns nil for
// SUCCESS replies and for payloads that do not parse as a canonical reply.
func (r Reply) Fault() *Fault {
	var body replyBody
	if err := jsoncodec.Unmarshal(r.Payload, &body); err != nil {
		return nil
	}
	if body.Status != StatusError {
		return nil
	}
	code := body.Code
	if code == "" {
		code = FaultCodeInternal
	}
	return &Fault{Code: code, Message: body.Error}
}

// StatusCode returns the HTTP status hint from the reply metadata, or def when
// absent.
func (r Reply) StatusCode(def int) int {
	raw, ok := r.Metadata[MetadataKeyStatusCode]
	if !ok {
		return def
	}
	var code int
	if _, err := fmt.Sscanf(raw, "%d", &code); err != nil || code < 100 || code > 599 {
		return def
	}
	return code
}

// SuccessBody merges {"status":"SUCCESS"} with the handler payload fields.
func SuccessBody(payload any) ([]byte, error) {
	raw, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := jsoncodec.Unmarshal(raw, &fields); err != nil {
		// Non-object payloads are wrapped under "result".
		fields = map[string]any{"result": json.RawMessage(raw)}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["status"] = StatusSuccess
	return jsoncodec.Marshal(fields)
}

// ErrorBody encodes a fault as the canonical ERROR reply payload.
func ErrorBody(f *Fault) ([]byte, error) {
	if f == nil {
		f = &Fault{Code: FaultCodeInternal, Message: "unknown error"}
	}
	return jsoncodec.Marshal(replyBody{
		Status: StatusError,
		Code:   f.Code,
		Error:  f.Message,
	})
}
