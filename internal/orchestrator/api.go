package orchestrator

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/orderlink/orderlink/internal/backend"
	"github.com/orderlink/orderlink/internal/jsoncodec"
	"github.com/orderlink/orderlink/internal/logging"
)

const maxOrderBody = 1 << 20

// API exposes order submission and lookup over HTTP.
type API struct {
	saga  *Saga
	store OrderStore
	log   logging.ServiceLogger
}

func NewAPI(saga *Saga, store OrderStore, log logging.ServiceLogger) *API {
	return &API{saga: saga, store: store, log: log}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Post("/orders", a.createOrder)
	r.Get("/orders", a.listOrders)
	r.Get("/orders/{id}", a.getOrder)
	return r
}

type createOrderRequest struct {
	ClientID    string             `json:"clientId"`
	Items       []backend.LineItem `json:"items"`
	Destination string             `json:"destination"`
}

func (r createOrderRequest) validate() string {
	if len(r.Items) == 0 {
		return "order needs at least one item"
	}
	for _, it := range r.Items {
		if it.SKU == "" {
			return "every item needs a sku"
		}
		if it.Quantity <= 0 {
			return "every item needs a positive quantity"
		}
	}
	if r.Destination == "" {
		return "order needs a destination"
	}
	return ""
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	var req createOrderRequest
	if err := jsoncodec.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if reason := req.validate(); reason != "" {
		writeJSONError(w, http.StatusBadRequest, reason)
		return
	}

	order, err := a.saga.SubmitOrder(r.Context(), req.ClientID, req.Items, req.Destination)
	if err != nil {
		a.log.Error("order submission failed", err, logging.LogFields{"client_id": req.ClientID})
		writeJSONError(w, http.StatusInternalServerError, "order submission failed")
		return
	}

	status := http.StatusCreated
	if order.Status == StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, order)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			writeJSONError(w, http.StatusNotFound, "order not found")
			return
		}
		a.log.Error("order lookup failed", err, nil)
		writeJSONError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.store.List(r.Context())
	if err != nil {
		a.log.Error("order listing failed", err, nil)
		writeJSONError(w, http.StatusInternalServerError, "order listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	jsoncodec.Encode(w, v) //nolint:errcheck
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
