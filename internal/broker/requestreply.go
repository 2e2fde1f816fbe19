// Package broker implements the generic request/reply protocol over the
// asynchronous pub/sub transport: correlation ids, ephemeral reply channels,
// pending-call resolution, and timeouts.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/metrics"
)

// ReplyTopicPrefix scopes ephemeral reply channels. Each client instance
// subscribes to exactly one topic under it.
const ReplyTopicPrefix = "reply."

var errClientClosed = errors.New("broker: request/reply client is closed")

// Client issues request/reply calls over the transport. Adapters share one
// Client per process; the reply subscription is exclusive to that instance.
type Client struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	log        logging.ServiceLogger
	replyTopic string

	mu      sync.Mutex
	pending map[string]chan envelope.Reply
	closed  bool

	done chan struct{}
}

// NewClient subscribes to a fresh ephemeral reply topic and starts the
// background resolution loop. Close the client to release the subscription.
func NewClient(ctx context.Context, publisher message.Publisher, subscriber message.Subscriber, log logging.ServiceLogger) (*Client, error) {
	if publisher == nil {
		return nil, errors.New("broker: publisher is required")
	}
	if subscriber == nil {
		return nil, errors.New("broker: subscriber is required")
	}
	if log == nil {
		log = logging.Nop()
	}

	c := &Client{
		publisher:  publisher,
		subscriber: subscriber,
		replyTopic: ReplyTopicPrefix + ids.New(),
		pending:    make(map[string]chan envelope.Reply),
		done:       make(chan struct{}),
	}
	c.log = log.With(logging.LogFields{"reply_topic": c.replyTopic})

	messages, err := subscriber.Subscribe(ctx, c.replyTopic)
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe reply topic: %w", err)
	}

	go c.resolveReplies(messages)

	return c, nil
}

// ReplyTopic returns the ephemeral reply channel identifier of this instance.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// RequestReply publishes env to queue and blocks until the correlated reply
// arrives or timeout elapses. A timeout removes the pending entry, so a late
// reply becomes an orphan and is discarded. At most one resolution happens per
// correlation id; duplicate replies are ignored.
func (c *Client) RequestReply(ctx context.Context, queue string, env envelope.Envelope, timeout time.Duration) (envelope.Reply, error) {
	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return envelope.Reply{}, fmt.Errorf("broker: marshal envelope: %w", err)
	}

	correlationID := ids.New()

	msg := message.NewMessage(ids.New(), payload)
	msg.Metadata.Set(envelope.MetadataKeyCorrelationID, correlationID)
	msg.Metadata.Set(envelope.MetadataKeyReplyTo, c.replyTopic)
	msg.Metadata.Set(envelope.MetadataKeyEnqueuedAt, time.Now().UTC().Format(time.RFC3339Nano))
	msg.SetContext(ctx)

	// The pending entry must exist before the publish so a fast reply cannot
	// race the registration.
	ch := make(chan envelope.Reply, 1)
	if err := c.addPending(correlationID, ch); err != nil {
		return envelope.Reply{}, err
	}

	metrics.RequestsTotal.WithLabelValues(queue).Inc()

	if err := c.publisher.Publish(queue, msg); err != nil {
		c.removePending(correlationID)
		return envelope.Reply{}, fmt.Errorf("%w: publish to %s: %v", envelope.ErrBrokerUnavailable, queue, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		c.removePending(correlationID)
		metrics.TimeoutsTotal.WithLabelValues(queue).Inc()
		c.log.Debug("request timed out", logging.LogFields{
			"queue":          queue,
			"type":           env.Type,
			"correlation_id": correlationID,
		})
		return envelope.Reply{}, &envelope.TimeoutError{Operation: env.Type, Timeout: timeout}
	case <-ctx.Done():
		c.removePending(correlationID)
		return envelope.Reply{}, ctx.Err()
	case <-c.done:
		c.removePending(correlationID)
		return envelope.Reply{}, errClientClosed
	}
}

// Close stops the resolution loop and rejects all pending calls.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[string]chan envelope.Reply)
	c.mu.Unlock()

	close(c.done)
}

func (c *Client) addPending(correlationID string, ch chan envelope.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	c.pending[correlationID] = ch
	return nil
}

// removePending deletes the entry and reports whether it was still pending.
func (c *Client) removePending(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[correlationID]
	delete(c.pending, correlationID)
	return ok
}

// takePending removes and returns the pending channel in one step, making the
// first reply the only one that can resolve the call.
func (c *Client) takePending(correlationID string) (chan envelope.Reply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	return ch, ok
}

func (c *Client) resolveReplies(messages <-chan *message.Message) {
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.handleReply(msg)
		}
	}
}

func (c *Client) handleReply(msg *message.Message) {
	// Replies are always acked: a reply that cannot be matched is worthless
	// to any other consumer of this exclusive topic.
	defer msg.Ack()

	correlationID := msg.Metadata.Get(envelope.MetadataKeyCorrelationID)
	if correlationID == "" {
		metrics.OrphanRepliesTotal.Inc()
		c.log.Debug("discarding reply without correlation id", logging.LogFields{
			"message_uuid": msg.UUID,
		})
		return
	}

	ch, ok := c.takePending(correlationID)
	if !ok {
		// Unknown or expired id, or a duplicate delivery.
		metrics.OrphanRepliesTotal.Inc()
		c.log.Debug("discarding orphan reply", logging.LogFields{
			"correlation_id": correlationID,
			"message_uuid":   msg.UUID,
		})
		return
	}

	reply := envelope.Reply{
		CorrelationID: correlationID,
		Payload:       msg.Payload,
		Metadata:      metadataToMap(msg.Metadata),
	}

	status := envelope.StatusSuccess
	if reply.Fault() != nil {
		status = envelope.StatusError
	}
	metrics.RepliesTotal.WithLabelValues(status).Inc()

	// Buffered channel: delivery cannot block even if the caller already gave up.
	ch <- reply
}

func metadataToMap(md message.Metadata) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
