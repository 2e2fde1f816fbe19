package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/metrics"
)

// correlationIDMiddleware injects a correlation id into the message metadata
// when missing, so every reply and log line can be tied back to a request.
func (w *Worker) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[envelope.MetadataKeyCorrelationID]; !ok {
				msg.Metadata[envelope.MetadataKeyCorrelationID] = ids.New()
			}
			return h(msg)
		}
	}
}

// logMessagesMiddleware logs the payload and metadata of handled messages.
func (w *Worker) logMessagesMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			w.log.Debug("processing message", logging.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling in an OpenTelemetry span.
func (w *Worker) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("orderlink-worker")
			ctx, span := tracer.Start(msg.Context(), "ProcessEnvelope")
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.queue", w.queue),
				attribute.String("message.correlation_id", msg.Metadata.Get(envelope.MetadataKeyCorrelationID)),
			)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return msgs, err
		}
	}
}

// retryMiddleware retries transient handler failures with a bounded attempt
// count. Unprocessable payloads are not retried: no number of attempts fixes
// a malformed message.
func (w *Worker) retryMiddleware() message.HandlerMiddleware {
	return middleware.Retry{
		MaxRetries:      w.opts.RetryMaxRetries,
		InitialInterval: w.opts.RetryInterval,
		MaxInterval:     w.opts.RetryInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			var unprocessable *UnprocessableMessageError
			return !errors.As(params.Err, &unprocessable)
		},
	}.Middleware
}

// deadLetterMiddleware publishes messages whose processing failed after all
// retries to the worker's dead-letter topic, then acknowledges the original.
// This replaces unbounded nack/requeue loops with a bounded retry counter and
// a dead-letter destination.
func (w *Worker) deadLetterMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err == nil {
				return msgs, nil
			}

			dlqMsg := message.NewMessage(msg.UUID, msg.Payload)
			for k, v := range msg.Metadata {
				dlqMsg.Metadata.Set(k, v)
			}
			dlqMsg.Metadata.Set(MetadataKeyDLQOriginalTopic, w.queue)
			dlqMsg.Metadata.Set(MetadataKeyDLQError, err.Error())
			dlqMsg.Metadata.Set(MetadataKeyDLQFailedAt, time.Now().UTC().Format(time.RFC3339Nano))

			if pubErr := w.publisher.Publish(w.dlqTopic, dlqMsg); pubErr != nil {
				// Dead-lettering failed too; keep the message unacked so the
				// broker redelivers it.
				return nil, fmt.Errorf("dead-letter publish failed: %w (original error: %v)", pubErr, err)
			}

			metrics.DeadLetteredTotal.WithLabelValues(w.queue).Inc()
			w.log.Error("message dead-lettered", err, logging.LogFields{
				"message_uuid": msg.UUID,
				"dlq_topic":    w.dlqTopic,
			})
			return nil, nil
		}
	}
}
