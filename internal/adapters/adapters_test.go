package adapters

import (
	"context"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/wire"
)

// stubCaller fakes the broker round trip for adapter tests.
type stubCaller struct {
	lastQueue string
	lastEnv   envelope.Envelope
	reply     envelope.Reply
	err       error
}

func (s *stubCaller) RequestReply(_ context.Context, queue string, env envelope.Envelope, _ time.Duration) (envelope.Reply, error) {
	s.lastQueue = queue
	s.lastEnv = env
	return s.reply, s.err
}

func successReply(t *testing.T, payload map[string]any, statusCode int) envelope.Reply {
	t.Helper()
	body, err := envelope.SuccessBody(payload)
	require.NoError(t, err)
	reply := envelope.Reply{CorrelationID: "corr", Payload: body}
	if statusCode > 0 {
		reply.Metadata = map[string]string{envelope.MetadataKeyStatusCode: strconv.Itoa(statusCode)}
	}
	return reply
}

func faultReply(t *testing.T, code, message string) envelope.Reply {
	t.Helper()
	body, err := envelope.ErrorBody(&envelope.Fault{Code: code, Message: message})
	require.NoError(t, err)
	return envelope.Reply{CorrelationID: "corr", Payload: body}
}

func TestHTTPAdapterSuccessMirrorsStatusCode(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"packageId": "PKG-1"}, http.StatusCreated)}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/warehouse/create-package", "application/json",
		strings.NewReader(`{"orderId":"ORD-1","items":[{"sku":"ITEM-001","quantity":2}],"destination":"Madrid"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, envelope.QueueWarehouse, caller.lastQueue)
	require.Equal(t, "CREATE_PACKAGE", caller.lastEnv.Type)

	var fields map[string]any
	require.NoError(t, jsoncodec.Decode(resp.Body, &fields))
	require.Equal(t, "PKG-1", fields["packageId"])
}

func TestHTTPAdapterFaultBecomes502(t *testing.T) {
	caller := &stubCaller{reply: faultReply(t, envelope.FaultCodeInsufficient, "no stock")}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/warehouse/create-package", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var fail httpErrorBody
	require.NoError(t, jsoncodec.Decode(resp.Body, &fail))
	require.False(t, fail.Success)
	require.Equal(t, envelope.FaultCodeInsufficient, fail.Error)
	require.Equal(t, "no stock", fail.Message)
}

func TestHTTPAdapterTimeoutBecomes504(t *testing.T) {
	caller := &stubCaller{err: &envelope.TimeoutError{Operation: "CREATE_PACKAGE", Timeout: time.Second}}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/warehouse/create-package", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestHTTPAdapterBrokerDownBecomes503(t *testing.T) {
	caller := &stubCaller{err: envelope.ErrBrokerUnavailable}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/routing/optimize-route", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPAdapterRejectsMalformedBody(t *testing.T) {
	caller := &stubCaller{}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/warehouse/create-package", "application/json", strings.NewReader(`{broken`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	// Malformed payloads must never reach the broker.
	require.Empty(t, caller.lastQueue)
}

func TestHTTPAdapterUnknownOperationIs404(t *testing.T) {
	srv := httptest.NewServer(NewHTTPAdapter(&stubCaller{}, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/warehouse/teleport-package", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRPCAdapterTranslatesFieldsBothWays(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"routeId": "RTE-9", "vehicle": "VAN-2"}, 0)}
	srv := httptest.NewServer(NewRPCAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	reqBody := `<rpcRequest>
  <Method>OptimizeRoute</Method>
  <Params>
    <OrderId>ORD-1</OrderId>
    <Destination>Madrid</Destination>
  </Params>
</rpcRequest>`
	resp, err := http.Post(srv.URL+"/rpc", "application/xml", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, envelope.QueueRouting, caller.lastQueue)
	require.Equal(t, "OPTIMIZE_ROUTE", caller.lastEnv.Type)

	// Inbound PascalCase params must arrive camelCased on the envelope.
	var data map[string]any
	require.NoError(t, jsoncodec.Unmarshal(caller.lastEnv.Data, &data))
	require.Equal(t, "ORD-1", data["orderId"])
	require.Equal(t, "Madrid", data["destination"])

	// Outbound camelCase reply fields must come back PascalCased.
	body := readBody(t, resp)
	require.Contains(t, body, "<RouteId>RTE-9</RouteId>")
	require.Contains(t, body, "<Vehicle>VAN-2</Vehicle>")
	require.Contains(t, body, "<Status>SUCCESS</Status>")
}

func TestRPCAdapterFaultElement(t *testing.T) {
	caller := &stubCaller{reply: faultReply(t, envelope.FaultCodeLegacyRefused, "refused")}
	srv := httptest.NewServer(NewRPCAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rpc", "application/xml",
		strings.NewReader(`<rpcRequest><Method>SubmitOrder</Method><Params></Params></rpcRequest>`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	require.Contains(t, body, "<Status>ERROR</Status>")
	require.Contains(t, body, "<Code>LEGACY_REFUSED</Code>")
	require.Contains(t, body, "<Message>refused</Message>")
}

func TestRPCAdapterDescribeListsEveryOperation(t *testing.T) {
	srv := httptest.NewServer(NewRPCAdapter(&stubCaller{}, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rpc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var desc serviceDescription
	require.NoError(t, xml.Unmarshal([]byte(readBody(t, resp)), &desc))
	require.Len(t, desc.Operations, len(Operations))

	byMethod := make(map[string]describedOperation, len(desc.Operations))
	for _, op := range desc.Operations {
		byMethod[op.Method] = op
	}

	// Every operation is listed with its input and output fields enumerated.
	for _, op := range Operations {
		described, ok := byMethod[methodForType(op.Type)]
		require.True(t, ok, "operation %s missing from description", op.Type)
		require.Equal(t, op.Type, described.Type)
		require.Equal(t, op.Queue, described.Queue)
		require.NotEmpty(t, described.Input, "operation %s lists no input fields", op.Type)
		require.NotEmpty(t, described.Output, "operation %s lists no output fields", op.Type)
	}

	// Field names carry the surface spelling and their declared types.
	create := byMethod["CreatePackage"]
	require.Contains(t, create.Input, describedField{Name: "OrderId", Type: "string"})
	require.Contains(t, create.Input, describedField{Name: "Items", Type: "array"})
	require.Contains(t, create.Output, describedField{Name: "PackageId", Type: "string"})
	verify := byMethod["VerifyClient"]
	require.Contains(t, verify.Output, describedField{Name: "Blacklisted", Type: "bool"})
}

func TestRPCAdapterKeepsDeclaredStringFieldsAsStrings(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"packageId": "PKG-1"}, 0)}
	srv := httptest.NewServer(NewRPCAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	// A numeric street destination and a digit-only SKU must stay strings;
	// the declared int field must still parse as a number.
	reqBody := `<rpcRequest>
  <Method>CreatePackage</Method>
  <Params>
    <OrderId>ORD-1</OrderId>
    <Destination>12345</Destination>
    <Items>
      <Item>
        <Sku>99</Sku>
        <Quantity>2</Quantity>
      </Item>
    </Items>
  </Params>
</rpcRequest>`
	resp, err := http.Post(srv.URL+"/rpc", "application/xml", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data map[string]any
	require.NoError(t, jsoncodec.Unmarshal(caller.lastEnv.Data, &data))
	require.Equal(t, "12345", data["destination"])

	items, ok := data["items"].([]any)
	require.True(t, ok, "items did not arrive as an array: %T", data["items"])
	first, ok := items[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "99", first["sku"])
	require.EqualValues(t, 2, first["quantity"])
}

func TestRPCAdapterUnknownMethod(t *testing.T) {
	srv := httptest.NewServer(NewRPCAdapter(&stubCaller{}, logging.Nop(), time.Second).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rpc", "application/xml",
		strings.NewReader(`<rpcRequest><Method>TeleportPackage</Method><Params></Params></rpcRequest>`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func startTCPAdapter(t *testing.T, caller BrokerCaller) string {
	t.Helper()
	adapter := NewTCPAdapter(caller, logging.Nop(), time.Second, time.Second)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		adapter.Serve(context.Background(), l) //nolint:errcheck
	}()
	t.Cleanup(func() {
		adapter.Close() //nolint:errcheck
	})
	return l.Addr().String()
}

func TestTCPAdapterRoundTrip(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"referenceId": "LEG-1"}, 0)}
	addr := startTCPAdapter(t, caller)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	env, err := envelope.New("SUBMIT_ORDER", map[string]string{"orderId": "ORD-1", "clientId": "CLI-1"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(conn, env))

	payload, err := wire.ReadMessage(conn)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, jsoncodec.Unmarshal(payload, &fields))
	require.Equal(t, envelope.StatusSuccess, fields["status"])
	require.Equal(t, "LEG-1", fields["referenceId"])
	require.Equal(t, envelope.QueueClients, caller.lastQueue)
}

func TestTCPAdapterTimeoutClosesConnection(t *testing.T) {
	caller := &stubCaller{err: &envelope.TimeoutError{Operation: "SUBMIT_ORDER", Timeout: time.Second}}
	addr := startTCPAdapter(t, caller)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	env, err := envelope.New("SUBMIT_ORDER", map[string]string{"orderId": "ORD-1"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(conn, env))

	payload, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	fault := envelope.Reply{Payload: payload}.Fault()
	require.NotNil(t, fault)
	require.Equal(t, "TIMEOUT", fault.Code)

	// The adapter closes the connection after the fault frame.
	conn.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	_, err = wire.ReadMessage(conn)
	require.Error(t, err)
}

func TestTCPAdapterRejectsUnknownType(t *testing.T) {
	addr := startTCPAdapter(t, &stubCaller{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	env, err := envelope.New("TELEPORT", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(conn, env))

	payload, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	fault := envelope.Reply{Payload: payload}.Fault()
	require.NotNil(t, fault)
	require.Equal(t, "UNKNOWN_OPERATION", fault.Code)
}

func TestHTTPClientRoundTripThroughAdapter(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"packageId": "PKG-2", "zone": "ZONE-A"}, http.StatusCreated)}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	fields, err := client.Call(context.Background(), "CREATE_PACKAGE", map[string]any{"orderId": "ORD-1"})
	require.NoError(t, err)
	require.Equal(t, "PKG-2", fields["packageId"])
}

func TestHTTPClientSurfacesFault(t *testing.T) {
	caller := &stubCaller{reply: faultReply(t, envelope.FaultCodeBlacklisted, "client CLI-666 is blacklisted")}
	srv := httptest.NewServer(NewHTTPAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Call(context.Background(), "SUBMIT_ORDER", map[string]any{"orderId": "ORD-1"})
	fault := envelope.AsFault(err)
	require.NotNil(t, fault)
	require.Equal(t, envelope.FaultCodeBlacklisted, fault.Code)
}

func TestRPCClientRoundTripThroughAdapter(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"routeId": "RTE-3"}, 0)}
	srv := httptest.NewServer(NewRPCAdapter(caller, logging.Nop(), time.Second).Router())
	defer srv.Close()

	client := NewRPCClient(srv.URL, time.Second)
	fields, err := client.Call(context.Background(), "OPTIMIZE_ROUTE", map[string]any{
		"orderId":     "ORD-1",
		"destination": "Madrid",
	})
	require.NoError(t, err)
	require.Equal(t, "RTE-3", fields["routeId"])

	var data map[string]any
	require.NoError(t, jsoncodec.Unmarshal(caller.lastEnv.Data, &data))
	require.Equal(t, "ORD-1", data["orderId"])
}

func TestTCPClientRoundTripThroughAdapter(t *testing.T) {
	caller := &stubCaller{reply: successReply(t, map[string]any{"referenceId": "LEG-7"}, 0)}
	addr := startTCPAdapter(t, caller)

	client := NewTCPClient(addr, time.Second)
	fields, err := client.Call(context.Background(), "SUBMIT_ORDER", map[string]any{"orderId": "ORD-1", "clientId": "CLI-1"})
	require.NoError(t, err)
	require.Equal(t, "LEG-7", fields["referenceId"])
}

func TestTCPClientSurfacesTimeoutFault(t *testing.T) {
	caller := &stubCaller{err: &envelope.TimeoutError{Operation: "SUBMIT_ORDER", Timeout: time.Second}}
	addr := startTCPAdapter(t, caller)

	client := NewTCPClient(addr, time.Second)
	_, err := client.Call(context.Background(), "SUBMIT_ORDER", map[string]any{"orderId": "ORD-1"})
	require.True(t, envelope.IsTimeout(err), "expected timeout, got %v", err)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}
