package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/logging"
)

const testQueue = "test.requests"

func newTestPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() {
		ps.Close() //nolint:errcheck
	})
	return ps
}

// startEchoWorker answers every request on the queue. replies controls how
// many replies are published per request; delay postpones them.
func startEchoWorker(t *testing.T, ctx context.Context, ps *gochannel.GoChannel, replies int, delay time.Duration) {
	t.Helper()
	messages, err := ps.Subscribe(ctx, testQueue)
	require.NoError(t, err)

	go func() {
		for msg := range messages {
			msg.Ack()
			replyTo := msg.Metadata.Get(envelope.MetadataKeyReplyTo)
			correlationID := msg.Metadata.Get(envelope.MetadataKeyCorrelationID)

			body, err := envelope.SuccessBody(map[string]string{"echo": "ok"})
			if err != nil {
				continue
			}
			time.Sleep(delay)
			for i := 0; i < replies; i++ {
				reply := message.NewMessage(watermill.NewUUID(), body)
				reply.Metadata.Set(envelope.MetadataKeyCorrelationID, correlationID)
				ps.Publish(replyTo, reply) //nolint:errcheck
			}
		}
	}()
}

func TestRequestReplyRoundTrip(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)
	startEchoWorker(t, ctx, ps, 1, 0)

	client, err := NewClient(ctx, ps, ps, logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	env, err := envelope.New("PING", map[string]string{"hello": "world"})
	require.NoError(t, err)

	reply, err := client.RequestReply(ctx, testQueue, env, 2*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, reply.CorrelationID)
	require.Nil(t, reply.Fault())
}

func TestRequestReplyTimesOutWithoutWorker(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)

	client, err := NewClient(ctx, ps, ps, logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	env, err := envelope.New("PING", map[string]string{})
	require.NoError(t, err)

	start := time.Now()
	_, err = client.RequestReply(ctx, testQueue, env, 50*time.Millisecond)
	require.True(t, envelope.IsTimeout(err), "expected timeout, got %v", err)
	require.Less(t, time.Since(start), time.Second)
}

func TestLateReplyDoesNotAffectLaterRequests(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)
	// Replies arrive well after the caller gave up.
	startEchoWorker(t, ctx, ps, 1, 200*time.Millisecond)

	client, err := NewClient(ctx, ps, ps, logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	env, err := envelope.New("PING", map[string]string{})
	require.NoError(t, err)

	_, err = client.RequestReply(ctx, testQueue, env, 20*time.Millisecond)
	require.True(t, envelope.IsTimeout(err))

	// The orphaned late reply must be discarded, not delivered to the next
	// call with a different correlation id.
	reply, err := client.RequestReply(ctx, testQueue, env, 2*time.Second)
	require.NoError(t, err)
	require.Nil(t, reply.Fault())
}

func TestDuplicateRepliesResolveAtMostOnce(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)
	startEchoWorker(t, ctx, ps, 3, 0)

	client, err := NewClient(ctx, ps, ps, logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	env, err := envelope.New("PING", map[string]string{})
	require.NoError(t, err)

	reply, err := client.RequestReply(ctx, testQueue, env, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply.Payload)

	// Give the duplicates time to arrive; they must be swallowed without
	// disturbing a fresh request.
	time.Sleep(100 * time.Millisecond)
	reply, err = client.RequestReply(ctx, testQueue, env, 2*time.Second)
	require.NoError(t, err)
	require.Nil(t, reply.Fault())
}

type failingPublisher struct{}

func (failingPublisher) Publish(string, ...*message.Message) error {
	return errors.New("connection refused")
}

func (failingPublisher) Close() error { return nil }

func TestPublishFailureIsBrokerUnavailable(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)

	client, err := NewClient(ctx, failingPublisher{}, ps, logging.Nop())
	require.NoError(t, err)
	defer client.Close()

	env, err := envelope.New("PING", map[string]string{})
	require.NoError(t, err)

	_, err = client.RequestReply(ctx, testQueue, env, time.Second)
	require.ErrorIs(t, err, envelope.ErrBrokerUnavailable)
}

func TestCloseRejectsPendingCalls(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)

	client, err := NewClient(ctx, ps, ps, logging.Nop())
	require.NoError(t, err)

	env, err := envelope.New("PING", map[string]string{})
	require.NoError(t, err)

	// No worker answers, so the call would otherwise sit until its timeout.
	errs := make(chan error, 1)
	go func() {
		_, err := client.RequestReply(ctx, testQueue, env, 10*time.Second)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, errClientClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call was not rejected on close")
	}
}

func TestRequestReplyAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	ps := newTestPubSub(t)

	client, err := NewClient(ctx, ps, ps, logging.Nop())
	require.NoError(t, err)
	client.Close()

	env, err := envelope.New("PING", map[string]string{})
	require.NoError(t, err)

	_, err = client.RequestReply(ctx, testQueue, env, time.Second)
	require.Error(t, err)
}
