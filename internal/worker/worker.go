// Package worker consumes canonical envelopes from a backend queue, invokes
// the mapped backend operation, and publishes exactly one correlated reply.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orderlink/orderlink/internal/broker/transport"
	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
)

// DLQSuffix is appended to the consume queue to form the dead-letter topic.
const DLQSuffix = ".dlq"

// Dead-letter metadata keys.
const (
	MetadataKeyDLQOriginalTopic = "dlq_original_topic"
	MetadataKeyDLQError         = "dlq_error"
	MetadataKeyDLQFailedAt      = "dlq_failed_at"
)

// Result carries a handler's reply payload plus an optional HTTP status hint
// mirrored by the HTTP adapter.
type Result struct {
	Payload    any
	StatusCode int
}

// HandlerFunc processes one canonical envelope. Returning a *envelope.Fault
// produces an ERROR reply; any other error is retried and eventually
// dead-lettered.
type HandlerFunc func(ctx context.Context, env envelope.Envelope) (Result, error)

// UnprocessableMessageError wraps payloads that cannot be parsed as canonical
// envelopes. It skips retries and goes straight to the dead-letter queue.
type UnprocessableMessageError struct {
	payload string
	err     error
}

func (e *UnprocessableMessageError) Error() string {
	return "unprocessable message: " + e.payload + " error: " + e.err.Error()
}

func (e *UnprocessableMessageError) Unwrap() error { return e.err }

// Options tunes the worker middleware chain.
type Options struct {
	// RetryMaxRetries bounds in-process retries before dead-lettering.
	// Zero falls back to 3.
	RetryMaxRetries int
	// RetryInterval is the fixed pause between retries. Zero falls back to 500ms.
	RetryInterval time.Duration
	// MetricsEnabled attaches the Prometheus router metrics.
	MetricsEnabled bool
}

func (o Options) withDefaults() Options {
	if o.RetryMaxRetries <= 0 {
		o.RetryMaxRetries = 3
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	return o
}

// Worker binds one queue to a handler map over a Watermill router.
type Worker struct {
	role     string
	queue    string
	dlqTopic string
	handlers map[string]HandlerFunc

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	log        logging.ServiceLogger
	opts       Options
}

// New wires a worker for the given role. The handler map keys are envelope
// types; each must resolve to exactly one handler.
func New(role, queue string, handlers map[string]HandlerFunc, tp transport.Transport, log logging.ServiceLogger, opts Options) (*Worker, error) {
	if queue == "" {
		return nil, errors.New("worker: consume queue is required")
	}
	if len(handlers) == 0 {
		return nil, errors.New("worker: at least one handler is required")
	}
	if tp.Publisher == nil || tp.Subscriber == nil {
		return nil, errors.New("worker: transport publisher and subscriber are required")
	}
	if log == nil {
		log = logging.Nop()
	}

	w := &Worker{
		role:       role,
		queue:      queue,
		dlqTopic:   queue + DLQSuffix,
		handlers:   handlers,
		publisher:  tp.Publisher,
		subscriber: tp.Subscriber,
		log:        log.With(logging.LogFields{"worker_role": role, "queue": queue}),
		opts:       opts.withDefaults(),
	}

	router, err := message.NewRouter(message.RouterConfig{}, logging.NewWatermillAdapter(w.log))
	if err != nil {
		return nil, fmt.Errorf("worker: create router: %w", err)
	}
	w.router = router

	// Middleware order matters: the dead-letter stage sits outside retry so
	// only errors that survived every attempt are dead-lettered, and the
	// recoverer sits innermost so panics become retryable errors.
	router.AddMiddleware(
		w.correlationIDMiddleware(),
		w.logMessagesMiddleware(),
		w.tracerMiddleware(),
		w.deadLetterMiddleware(),
		w.retryMiddleware(),
		middleware.Recoverer,
	)

	if w.opts.MetricsEnabled {
		metricsBuilder := wmmetrics.NewPrometheusMetricsBuilder(prometheus.DefaultRegisterer, "orderlink", role)
		metricsBuilder.AddPrometheusRouterMetrics(router)
	}

	router.AddNoPublisherHandler(
		fmt.Sprintf("%s-worker", role),
		queue,
		w.subscriber,
		w.handle,
	)

	return w, nil
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting", logging.LogFields{"operations": w.operationNames()})
	return w.router.Run(ctx)
}

// Running returns a channel closed once the router is up. Tests use it to
// avoid publishing before the subscription exists.
func (w *Worker) Running() chan struct{} {
	return w.router.Running()
}

// Close stops the router.
func (w *Worker) Close() error {
	return w.router.Close()
}

func (w *Worker) operationNames() []string {
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	return names
}

// handle processes one message: decode, dispatch, publish exactly one reply.
// Returning nil acknowledges the message.
func (w *Worker) handle(msg *message.Message) error {
	var env envelope.Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil {
		return &UnprocessableMessageError{payload: string(msg.Payload), err: err}
	}

	handler, ok := w.handlers[env.Type]
	if !ok {
		// Unknown types must produce an explicit reply, never a silent drop.
		fault := envelope.NewFault(envelope.FaultCodeUnsupported, "unsupported operation %q", env.Type)
		return w.replyError(msg, fault)
	}

	result, err := handler(msg.Context(), env)
	if err != nil {
		if fault := envelope.AsFault(err); fault != nil {
			return w.replyError(msg, fault)
		}
		// Transient failure: let the retry middleware have it.
		return err
	}

	return w.replySuccess(msg, result)
}

func (w *Worker) replySuccess(msg *message.Message, result Result) error {
	body, err := envelope.SuccessBody(result.Payload)
	if err != nil {
		return fmt.Errorf("worker: encode reply: %w", err)
	}
	return w.publishReply(msg, body, result.StatusCode)
}

func (w *Worker) replyError(msg *message.Message, fault *envelope.Fault) error {
	body, err := envelope.ErrorBody(fault)
	if err != nil {
		return fmt.Errorf("worker: encode fault reply: %w", err)
	}
	return w.publishReply(msg, body, 0)
}

func (w *Worker) publishReply(msg *message.Message, body []byte, statusCode int) error {
	replyTo := msg.Metadata.Get(envelope.MetadataKeyReplyTo)
	if replyTo == "" {
		// Fire-and-forget request: nothing to reply to.
		w.log.Debug("no reply_to on message, skipping reply", logging.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	reply := message.NewMessage(ids.New(), body)
	reply.Metadata.Set(envelope.MetadataKeyCorrelationID, msg.Metadata.Get(envelope.MetadataKeyCorrelationID))
	if statusCode > 0 {
		reply.Metadata.Set(envelope.MetadataKeyStatusCode, strconv.Itoa(statusCode))
	}

	if err := w.publisher.Publish(replyTo, reply); err != nil {
		return fmt.Errorf("worker: publish reply to %s: %w", replyTo, err)
	}
	return nil
}
