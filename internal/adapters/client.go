package adapters

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/wire"
)

// Client is the outbound surface the orchestrator calls a backend through.
// One implementation exists per protocol so every inbound adapter has a
// matching exerciser. Call returns the decoded reply fields on success; a
// backend fault comes back as *envelope.Fault, a timed-out round trip as
// *envelope.TimeoutError.
type Client interface {
	Call(ctx context.Context, opType string, params map[string]any) (map[string]any, error)
}

var pathByType = func() map[string]string {
	m := make(map[string]string, len(Operations))
	for key, op := range Operations {
		m[op.Type] = key
	}
	return m
}()

// HTTPClient calls backends through the HTTP adapter.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Call(ctx context.Context, opType string, params map[string]any) (map[string]any, error) {
	path, ok := pathByType[opType]
	if !ok {
		return nil, envelope.NewValidationError("unknown operation type: %s", opType)
	}
	body, err := jsoncodec.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/"+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", opType, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("read response for %s: %w", opType, err)
	}

	if resp.StatusCode >= 400 {
		var fail httpErrorBody
		if err := jsoncodec.Unmarshal(respBody, &fail); err != nil || fail.Error == "" {
			return nil, fmt.Errorf("call %s: unexpected status %d", opType, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusGatewayTimeout || fail.Error == "TIMEOUT" {
			return nil, &envelope.TimeoutError{Operation: opType, Timeout: c.HTTP.Timeout}
		}
		return nil, &envelope.Fault{Code: fail.Error, Message: fail.Message}
	}

	var fields map[string]any
	if err := jsoncodec.Unmarshal(respBody, &fields); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w", opType, err)
	}
	return fields, nil
}

type rpcRequestOut struct {
	XMLName xml.Name  `xml:"rpcRequest"`
	Method  string    `xml:"Method"`
	Params  *xmlValue `xml:"Params"`
}

type rpcResponseIn struct {
	XMLName xml.Name  `xml:"rpcResponse"`
	Status  string    `xml:"Status"`
	Fault   *rpcFault `xml:"Fault"`
	Result  xmlNode   `xml:"Result"`
}

// RPCClient calls backends through the XML surface, translating field names
// in both directions through the shared table.
type RPCClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	return &RPCClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

func (c *RPCClient) Call(ctx context.Context, opType string, params map[string]any) (map[string]any, error) {
	reqXML, err := xml.Marshal(rpcRequestOut{
		Method: methodForType(opType),
		Params: newXMLValue(anyMap(params)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rpc", bytes.NewReader(reqXML))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", opType, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("read rpc response for %s: %w", opType, err)
	}

	var parsed rpcResponseIn
	if err := xml.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode rpc response for %s: %w", opType, err)
	}
	if parsed.Fault != nil {
		if parsed.Fault.Code == "TIMEOUT" {
			return nil, &envelope.TimeoutError{Operation: opType, Timeout: c.HTTP.Timeout}
		}
		return nil, &envelope.Fault{Code: parsed.Fault.Code, Message: parsed.Fault.Message}
	}

	fields, ok := parsed.Result.toValue().(map[string]any)
	if !ok {
		fields = map[string]any{}
	}
	fields["status"] = parsed.Status
	return fields, nil
}

// TCPClient calls backends through the binary surface. Each call opens a
// fresh connection, matching the one-cycle-per-connection contract.
type TCPClient struct {
	Addr    string
	Timeout time.Duration
	Dialer  net.Dialer
}

func NewTCPClient(addr string, timeout time.Duration) *TCPClient {
	return &TCPClient{Addr: addr, Timeout: timeout}
}

func (c *TCPClient) Call(ctx context.Context, opType string, params map[string]any) (map[string]any, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.Timeout)) //nolint:errcheck

	raw, err := jsoncodec.Marshal(anyMap(params))
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if err := wire.WriteMessage(conn, envelope.NewRaw(opType, raw)); err != nil {
		return nil, fmt.Errorf("write request for %s: %w", opType, err)
	}

	payload, err := wire.ReadMessage(conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &envelope.TimeoutError{Operation: opType, Timeout: c.Timeout}
		}
		return nil, fmt.Errorf("read reply for %s: %w", opType, err)
	}

	reply := envelope.Reply{Payload: payload}
	if f := reply.Fault(); f != nil {
		if f.Code == "TIMEOUT" {
			return nil, &envelope.TimeoutError{Operation: opType, Timeout: c.Timeout}
		}
		return nil, f
	}
	var fields map[string]any
	if err := jsoncodec.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode reply for %s: %w", opType, err)
	}
	return fields, nil
}

func anyMap(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
