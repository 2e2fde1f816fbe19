package adapters

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/wire"
)

// TCPAdapter serves the length-prefixed binary surface. Each accepted
// connection carries one request/response cycle: the client sends a framed
// canonical envelope, the adapter answers with a framed reply and closes.
type TCPAdapter struct {
	caller      BrokerCaller
	log         logging.ServiceLogger
	timeout     time.Duration
	readTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
	closed   bool
}

func NewTCPAdapter(caller BrokerCaller, log logging.ServiceLogger, timeout, readTimeout time.Duration) *TCPAdapter {
	return &TCPAdapter{
		caller:      caller,
		log:         log,
		timeout:     timeout,
		readTimeout: readTimeout,
	}
}

// Serve accepts connections on l until Close is called. It blocks.
func (a *TCPAdapter) Serve(ctx context.Context, l net.Listener) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return net.ErrClosed
	}
	a.listener = l
	a.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		a.conns.Add(1)
		go func() {
			defer a.conns.Done()
			a.serveConn(ctx, conn)
		}()
	}
}

// Close stops the listener and waits for in-flight connections.
func (a *TCPAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	l := a.listener
	a.mu.Unlock()
	var err error
	if l != nil {
		err = l.Close()
	}
	a.conns.Wait()
	return err
}

func (a *TCPAdapter) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	conn.SetReadDeadline(time.Now().Add(a.readTimeout)) //nolint:errcheck
	payload, err := wire.ReadMessage(conn)
	if err != nil {
		var fe *wire.FramingError
		if errors.As(err, &fe) {
			a.log.Error("closing connection on framing error", err, logging.LogFields{"remote": remote})
			a.writeFault(conn, "FRAMING_ERROR", fe.Reason)
			return
		}
		a.log.Debug("connection closed before a full frame arrived", logging.LogFields{"remote": remote, "error": err.Error()})
		return
	}

	var env envelope.Envelope
	if err := env.UnmarshalFrame(payload); err != nil {
		a.log.Error("rejecting malformed envelope", err, logging.LogFields{"remote": remote})
		a.writeFault(conn, "BAD_REQUEST", err.Error())
		return
	}
	op, ok := OperationByType(env.Type)
	if !ok {
		a.writeFault(conn, "UNKNOWN_OPERATION", "no such operation: "+env.Type)
		return
	}

	reply, err := a.caller.RequestReply(ctx, op.Queue, env, a.timeout)
	if err != nil {
		switch {
		case envelope.IsTimeout(err):
			a.log.Error("closing connection on reply timeout", err, logging.LogFields{"remote": remote, "type": env.Type})
			a.writeFault(conn, "TIMEOUT", err.Error())
		case errors.Is(err, envelope.ErrBrokerUnavailable):
			a.writeFault(conn, "BROKER_UNAVAILABLE", err.Error())
		default:
			a.writeFault(conn, "INTERNAL_ERROR", err.Error())
		}
		return
	}

	conn.SetWriteDeadline(time.Now().Add(a.readTimeout)) //nolint:errcheck
	if err := wire.WriteRaw(conn, reply.Payload); err != nil {
		a.log.Error("writing reply frame failed", err, logging.LogFields{"remote": remote})
	}
}

func (a *TCPAdapter) writeFault(conn net.Conn, code, message string) {
	body, err := envelope.ErrorBody(&envelope.Fault{Code: code, Message: message})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(a.readTimeout)) //nolint:errcheck
	if err := wire.WriteRaw(conn, body); err != nil {
		a.log.Debug("writing fault frame failed", logging.LogFields{"error": err.Error()})
	}
}
