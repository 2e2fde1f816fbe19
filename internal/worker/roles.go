package worker

import (
	"context"
	"net/http"

	"github.com/orderlink/orderlink/internal/backend"
	"github.com/orderlink/orderlink/internal/envelope"
)

// Envelope types handled by the backend workers.
const (
	TypeCreatePackage  = "CREATE_PACKAGE"
	TypePackageStatus  = "GET_PACKAGE_STATUS"
	TypeReleasePackage = "RELEASE_PACKAGE"
	TypeOptimizeRoute  = "OPTIMIZE_ROUTE"
	TypeGetRoute       = "GET_ROUTE"
	TypeUpdateRoute    = "UPDATE_ROUTE"
	TypeCancelRoute    = "CANCEL_ROUTE"
	TypeSubmitOrder    = "SUBMIT_ORDER"
	TypeOrderStatus    = "GET_ORDER_STATUS"
	TypeCancelOrder    = "CANCEL_ORDER"
	TypeVerifyClient   = "VERIFY_CLIENT"
)

type createPackageRequest struct {
	OrderID     string             `json:"orderId"`
	Items       []backend.LineItem `json:"items"`
	Destination string             `json:"destination"`
}

type packageRef struct {
	PackageID string `json:"packageId"`
}

type optimizeRouteRequest struct {
	OrderID     string `json:"orderId"`
	Destination string `json:"destination"`
}

type routeRef struct {
	RouteID     string `json:"routeId"`
	Destination string `json:"destination,omitempty"`
}

type submitOrderRequest struct {
	OrderID  string `json:"orderId"`
	ClientID string `json:"clientId"`
}

type legacyRef struct {
	ReferenceID string `json:"referenceId"`
}

type clientRef struct {
	ClientID string `json:"clientId"`
}

// WarehouseHandlers maps warehouse envelope types onto the inventory backend.
func WarehouseHandlers(wh *backend.Warehouse) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		TypeCreatePackage: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var req createPackageRequest
			if err := env.DecodeData(&req); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			pkg, err := wh.CreatePackage(ctx, req.OrderID, req.Items, req.Destination)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: pkg, StatusCode: http.StatusCreated}, nil
		},
		TypePackageStatus: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref packageRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			pkg, err := wh.PackageStatus(ctx, ref.PackageID)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: pkg}, nil
		},
		TypeReleasePackage: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref packageRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			if err := wh.ReleasePackage(ctx, ref.PackageID); err != nil {
				return Result{}, err
			}
			return Result{Payload: map[string]any{"packageId": ref.PackageID, "released": true}}, nil
		},
	}
}

// RoutingHandlers maps routing envelope types onto the logistics backend.
func RoutingHandlers(lg *backend.Logistics) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		TypeOptimizeRoute: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var req optimizeRouteRequest
			if err := env.DecodeData(&req); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			route, err := lg.OptimizeRoute(ctx, req.OrderID, req.Destination)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: route, StatusCode: http.StatusCreated}, nil
		},
		TypeGetRoute: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref routeRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			route, err := lg.GetRoute(ctx, ref.RouteID)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: route}, nil
		},
		TypeUpdateRoute: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref routeRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			route, err := lg.UpdateRoute(ctx, ref.RouteID, ref.Destination)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: route}, nil
		},
		TypeCancelRoute: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref routeRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			if err := lg.CancelRoute(ctx, ref.RouteID); err != nil {
				return Result{}, err
			}
			return Result{Payload: map[string]any{"routeId": ref.RouteID, "cancelled": true}}, nil
		},
	}
}

// ClientsHandlers maps the legacy order system and client directory
// operations for the client-management worker.
func ClientsHandlers(cl *backend.Clients, lg *backend.Legacy) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		TypeSubmitOrder: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var req submitOrderRequest
			if err := env.DecodeData(&req); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			if _, err := cl.Verify(ctx, req.ClientID); err != nil {
				return Result{}, err
			}
			reg, err := lg.Submit(ctx, req.OrderID, req.ClientID)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: reg, StatusCode: http.StatusCreated}, nil
		},
		TypeOrderStatus: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref legacyRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			reg, err := lg.Status(ctx, ref.ReferenceID)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: reg}, nil
		},
		TypeCancelOrder: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref legacyRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			if err := lg.Cancel(ctx, ref.ReferenceID); err != nil {
				return Result{}, err
			}
			return Result{Payload: map[string]any{"referenceId": ref.ReferenceID, "cancelled": true}}, nil
		},
		TypeVerifyClient: func(ctx context.Context, env envelope.Envelope) (Result, error) {
			var ref clientRef
			if err := env.DecodeData(&ref); err != nil {
				return Result{}, envelope.NewFault(envelope.FaultCodeInternal, "%s", err.Error())
			}
			client, err := cl.Verify(ctx, ref.ClientID)
			if err != nil {
				return Result{}, err
			}
			return Result{Payload: client}, nil
		},
	}
}
