package adapters

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
)

// RPCAdapter serves the XML surface on POST /rpc. Method names use PascalCase
// and payload fields are translated through the shared field table in both
// directions. GET /rpc returns the service description.
type RPCAdapter struct {
	caller  BrokerCaller
	log     logging.ServiceLogger
	timeout time.Duration
	methods map[string]Operation
}

func NewRPCAdapter(caller BrokerCaller, log logging.ServiceLogger, timeout time.Duration) *RPCAdapter {
	methods := make(map[string]Operation, len(Operations))
	for _, op := range Operations {
		methods[methodForType(op.Type)] = op
	}
	return &RPCAdapter{caller: caller, log: log, timeout: timeout, methods: methods}
}

func (a *RPCAdapter) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/rpc", a.describe)
	r.Post("/rpc", a.call)
	return r
}

type rpcRequest struct {
	XMLName xml.Name `xml:"rpcRequest"`
	Method  string   `xml:"Method"`
	Params  xmlNode  `xml:"Params"`
}

type rpcFault struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

type rpcResponse struct {
	XMLName xml.Name  `xml:"rpcResponse"`
	Status  string    `xml:"Status"`
	Fault   *rpcFault `xml:"Fault,omitempty"`
	Result  *xmlValue `xml:"Result,omitempty"`
}

func (a *RPCAdapter) call(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))
	if err != nil {
		writeRPCFault(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read request body")
		return
	}
	var req rpcRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeRPCFault(w, http.StatusBadRequest, "BAD_REQUEST", "request is not valid XML: "+err.Error())
		return
	}
	op, ok := a.methods[req.Method]
	if !ok {
		writeRPCFault(w, http.StatusNotFound, "UNKNOWN_OPERATION", "no such method: "+req.Method)
		return
	}

	params := req.Params.toValue()
	fields, ok := params.(map[string]any)
	if !ok {
		fields = map[string]any{}
	}
	raw, err := jsoncodec.Marshal(fields)
	if err != nil {
		writeRPCFault(w, http.StatusBadRequest, "BAD_REQUEST", "unable to encode params")
		return
	}

	reply, err := a.caller.RequestReply(r.Context(), op.Queue, envelope.NewRaw(op.Type, raw), a.timeout)
	if err != nil {
		a.writeFailure(w, op, err)
		return
	}
	if f := reply.Fault(); f != nil {
		writeRPCFault(w, http.StatusOK, f.Code, f.Message)
		return
	}

	var payload map[string]any
	if err := jsoncodec.Unmarshal(reply.Payload, &payload); err != nil {
		writeRPCFault(w, http.StatusBadGateway, "INTERNAL_ERROR", "reply payload is not a JSON object")
		return
	}
	delete(payload, "status")
	writeRPCResponse(w, rpcResponse{Status: envelope.StatusSuccess, Result: newXMLValue(payload)})
}

func (a *RPCAdapter) writeFailure(w http.ResponseWriter, op Operation, err error) {
	switch {
	case envelope.IsTimeout(err):
		a.log.Error("rpc request timed out", err, logging.LogFields{"queue": op.Queue, "type": op.Type})
		writeRPCFault(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	case errors.Is(err, envelope.ErrBrokerUnavailable):
		a.log.Error("broker unavailable", err, logging.LogFields{"queue": op.Queue})
		writeRPCFault(w, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE", err.Error())
	default:
		a.log.Error("rpc request failed", err, logging.LogFields{"queue": op.Queue, "type": op.Type})
		writeRPCFault(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

type describedField struct {
	Name string `xml:"Name"`
	Type string `xml:"Type"`
}

type describedOperation struct {
	Method string           `xml:"Method"`
	Type   string           `xml:"Type"`
	Queue  string           `xml:"Queue"`
	Input  []describedField `xml:"Input>Field"`
	Output []describedField `xml:"Output>Field"`
}

type serviceDescription struct {
	XMLName    xml.Name             `xml:"serviceDescription"`
	Service    string               `xml:"Service"`
	Operations []describedOperation `xml:"Operations>Operation"`
}

// describeFields renders canonical field names in the surface spelling with
// their declared wire types.
func describeFields(names []string) []describedField {
	fields := make([]describedField, 0, len(names))
	for _, name := range names {
		t := fieldType(name)
		if t == "" {
			t = FieldString
		}
		fields = append(fields, describedField{Name: toRPCField(name), Type: t})
	}
	return fields
}

func (a *RPCAdapter) describe(w http.ResponseWriter, _ *http.Request) {
	desc := serviceDescription{Service: "orderlink"}
	for method, op := range a.methods {
		schema := operationSchemas[op.Type]
		desc.Operations = append(desc.Operations, describedOperation{
			Method: method,
			Type:   op.Type,
			Queue:  op.Queue,
			Input:  describeFields(schema.Input),
			Output: describeFields(schema.Output),
		})
	}
	sort.Slice(desc.Operations, func(i, j int) bool {
		return desc.Operations[i].Method < desc.Operations[j].Method
	})
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(desc) //nolint:errcheck
}

func writeRPCFault(w http.ResponseWriter, status int, code, message string) {
	writeRPCResponseStatus(w, status, rpcResponse{
		Status: envelope.StatusError,
		Fault:  &rpcFault{Code: code, Message: message},
	})
}

func writeRPCResponse(w http.ResponseWriter, resp rpcResponse) {
	writeRPCResponseStatus(w, http.StatusOK, resp)
}

func writeRPCResponseStatus(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(resp) //nolint:errcheck
}

// xmlNode is a generic parsed XML element used to turn request params into a
// JSON object. Scalar fields are typed through the shared field table.
type xmlNode struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

// toValue converts a node into the JSON-shaped value it represents. Repeated
// Item children become an array; other children become object fields with
// their names translated to canonical spelling.
func (n xmlNode) toValue() any {
	if len(n.Children) == 0 {
		return scalarValue(strings.TrimSpace(n.Text))
	}
	allItems := true
	for _, c := range n.Children {
		if c.XMLName.Local != "Item" {
			allItems = false
			break
		}
	}
	if allItems {
		items := make([]any, 0, len(n.Children))
		for _, c := range n.Children {
			items = append(items, c.toValue())
		}
		return items
	}
	fields := make(map[string]any, len(n.Children))
	for _, c := range n.Children {
		canonical := toCanonicalField(c.XMLName.Local)
		if len(c.Children) == 0 {
			fields[canonical] = scalarValueAs(strings.TrimSpace(c.Text), fieldType(canonical))
		} else {
			fields[canonical] = c.toValue()
		}
	}
	return fields
}

// scalarValueAs parses scalar text per the field's declared type. A declared
// string field is never coerced, so a digit-only value such as a numeric
// street name survives the XML surface unchanged. Fields without a declared
// type fall back to heuristic parsing.
func scalarValueAs(text, declared string) any {
	switch declared {
	case FieldString:
		return text
	case FieldInt:
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i
		}
		return text
	case FieldBool:
		if b, err := strconv.ParseBool(text); err == nil {
			return b
		}
		return text
	default:
		return scalarValue(text)
	}
}

func scalarValue(text string) any {
	if text == "" {
		return ""
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(text); err == nil {
		return b
	}
	return text
}

// xmlValue renders a JSON-shaped value back into XML, translating field names
// through the shared table.
type xmlValue struct {
	value any
}

func newXMLValue(v any) *xmlValue { return &xmlValue{value: v} }

func (v *xmlValue) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := encodeXMLValue(e, v.value); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

func encodeXMLValue(e *xml.Encoder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			el := xml.StartElement{Name: xml.Name{Local: toRPCField(name)}}
			if err := e.EncodeToken(el); err != nil {
				return err
			}
			if err := encodeXMLValue(e, val[name]); err != nil {
				return err
			}
			if err := e.EncodeToken(el.End()); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, item := range val {
			el := xml.StartElement{Name: xml.Name{Local: "Item"}}
			if err := e.EncodeToken(el); err != nil {
				return err
			}
			if err := encodeXMLValue(e, item); err != nil {
				return err
			}
			if err := e.EncodeToken(el.End()); err != nil {
				return err
			}
		}
		return nil
	default:
		return e.EncodeToken(xml.CharData(formatScalar(val)))
	}
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
