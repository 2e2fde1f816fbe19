package adapters

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
)

const maxHTTPBody = 1 << 20

// HTTPAdapter serves the JSON over HTTP surface. Requests are posted to
// /api/{service}/{operation}; the body becomes the envelope data verbatim.
type HTTPAdapter struct {
	caller  BrokerCaller
	log     logging.ServiceLogger
	timeout time.Duration
}

func NewHTTPAdapter(caller BrokerCaller, log logging.ServiceLogger, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{caller: caller, log: log, timeout: timeout}
}

// Router builds the chi router for the adapter. Mounted by the gateway.
func (a *HTTPAdapter) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Post("/api/{service}/{operation}", a.handle)
	return r
}

func (a *HTTPAdapter) handle(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "service") + "/" + chi.URLParam(r, "operation")
	op, ok := Operations[key]
	if !ok {
		writeHTTPError(w, http.StatusNotFound, "UNKNOWN_OPERATION", "no such operation: "+key)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read request body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !jsoncodec.Valid(body) {
		writeHTTPError(w, http.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON")
		return
	}

	env := envelope.NewRaw(op.Type, body)
	reply, err := a.caller.RequestReply(r.Context(), op.Queue, env, a.timeout)
	if err != nil {
		a.writeFailure(w, op, err)
		return
	}
	if f := reply.Fault(); f != nil {
		writeHTTPError(w, http.StatusBadGateway, f.Code, f.Message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.StatusCode(http.StatusOK))
	w.Write(reply.Payload) //nolint:errcheck
}

func (a *HTTPAdapter) writeFailure(w http.ResponseWriter, op Operation, err error) {
	switch {
	case envelope.IsTimeout(err):
		a.log.Error("request timed out", err, logging.LogFields{"queue": op.Queue, "type": op.Type})
		writeHTTPError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	case errors.Is(err, envelope.ErrBrokerUnavailable):
		a.log.Error("broker unavailable", err, logging.LogFields{"queue": op.Queue})
		writeHTTPError(w, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE", err.Error())
	default:
		var ve *envelope.ValidationError
		if errors.As(err, &ve) {
			writeHTTPError(w, http.StatusBadRequest, "BAD_REQUEST", ve.Error())
			return
		}
		a.log.Error("request failed", err, logging.LogFields{"queue": op.Queue, "type": op.Type})
		writeHTTPError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

type httpErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeHTTPError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	jsoncodec.Encode(w, httpErrorBody{Success: false, Error: code, Message: message}) //nolint:errcheck
}
