// Package notify publishes order progress events. Delivery is fire and
// forget: a sink outage is logged and never surfaces to the caller.
package notify

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
)

// TopicNotifications carries order progress events for external consumers.
const TopicNotifications = "orders.notifications"

// Event statuses emitted over the order lifecycle.
const (
	EventCreated      = "CREATED"
	EventStepDone     = "STEP_COMPLETED"
	EventCompleted    = "COMPLETED"
	EventFailed       = "FAILED"
	EventCompensation = "COMPENSATION"
)

// Event is one order progress notification. The client is published under
// userId, the field name external consumers subscribe on.
type Event struct {
	OrderID   string `json:"orderId"`
	ClientID  string `json:"userId,omitempty"`
	Status    string `json:"status"`
	Step      string `json:"step,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Sink publishes events to the notifications topic.
type Sink struct {
	publisher message.Publisher
	log       logging.ServiceLogger
}

func NewSink(publisher message.Publisher, log logging.ServiceLogger) *Sink {
	return &Sink{publisher: publisher, log: log}
}

// Emit publishes the event. Failures are logged and swallowed so order
// processing never stalls on the sink.
func (s *Sink) Emit(event Event) {
	if s == nil || s.publisher == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := jsoncodec.Marshal(event)
	if err != nil {
		s.log.Error("encoding notification failed", err, logging.LogFields{"order_id": event.OrderID})
		return
	}
	msg := message.NewMessage(ids.New(), payload)
	msg.Metadata.Set(envelope.MetadataKeyCorrelationID, event.OrderID)
	if err := s.publisher.Publish(TopicNotifications, msg); err != nil {
		s.log.Error("publishing notification failed", err, logging.LogFields{
			"order_id": event.OrderID,
			"status":   event.Status,
		})
	}
}
