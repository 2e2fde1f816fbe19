package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
)

// RouteStore persists scheduled delivery routes.
type RouteStore interface {
	SaveRoute(ctx context.Context, route Route) error
	GetRoute(ctx context.Context, routeID string) (Route, bool)
	DeleteRoute(ctx context.Context, routeID string) (Route, bool)
}

// Route is a scheduled delivery for one order.
type Route struct {
	RouteID     string    `json:"routeId"`
	OrderID     string    `json:"orderId"`
	Destination string    `json:"destination"`
	Zone        string    `json:"zone"`
	Vehicle     string    `json:"vehicle"`
	ETA         time.Time `json:"eta"`
	Status      string    `json:"routeStatus"`
}

// Route statuses.
const (
	RouteScheduled = "SCHEDULED"
	RouteCancelled = "CANCELLED"
)

var vehiclesByZone = map[string]string{
	"ZONE-A": "VAN-NORTH",
	"ZONE-B": "VAN-CENTRAL",
	"ZONE-C": "TRUCK-SOUTH",
	"ZONE-D": "TRUCK-REMOTE",
}

// Logistics implements the route operations behind the routing worker.
type Logistics struct {
	store RouteStore
}

// NewLogistics builds a Logistics service over the supplied store.
func NewLogistics(store RouteStore) *Logistics {
	return &Logistics{store: store}
}

// OptimizeRoute schedules a delivery route for the order.
func (l *Logistics) OptimizeRoute(ctx context.Context, orderID, destination string) (Route, error) {
	if orderID == "" {
		return Route{}, envelope.NewFault(envelope.FaultCodeInternal, "orderId is required")
	}
	if destination == "" {
		return Route{}, envelope.NewFault(envelope.FaultCodeInternal, "destination is required")
	}

	zone := ZoneFor(destination)
	vehicle, ok := vehiclesByZone[zone]
	if !ok {
		vehicle = "VAN-POOL"
	}

	route := Route{
		RouteID:     "RTE-" + ids.New(),
		OrderID:     orderID,
		Destination: destination,
		Zone:        zone,
		Vehicle:     vehicle,
		ETA:         time.Now().UTC().Add(48 * time.Hour),
		Status:      RouteScheduled,
	}
	if err := l.store.SaveRoute(ctx, route); err != nil {
		return Route{}, err
	}
	return route, nil
}

// GetRoute returns the stored route.
func (l *Logistics) GetRoute(ctx context.Context, routeID string) (Route, error) {
	route, ok := l.store.GetRoute(ctx, routeID)
	if !ok {
		return Route{}, envelope.NewFault(envelope.FaultCodeNotFound, "route %s not found", routeID)
	}
	return route, nil
}

// UpdateRoute changes the destination of a scheduled route and re-derives the
// zone and vehicle.
func (l *Logistics) UpdateRoute(ctx context.Context, routeID, destination string) (Route, error) {
	route, ok := l.store.GetRoute(ctx, routeID)
	if !ok {
		return Route{}, envelope.NewFault(envelope.FaultCodeNotFound, "route %s not found", routeID)
	}
	if route.Status != RouteScheduled {
		return Route{}, envelope.NewFault(envelope.FaultCodeInternal, "route %s is %s, not updatable", routeID, route.Status)
	}

	route.Destination = destination
	route.Zone = ZoneFor(destination)
	if vehicle, ok := vehiclesByZone[route.Zone]; ok {
		route.Vehicle = vehicle
	}
	if err := l.store.SaveRoute(ctx, route); err != nil {
		return Route{}, err
	}
	return route, nil
}

// CancelRoute is the compensation for OptimizeRoute. Cancelling an unknown
// route is a no-op so compensation stays idempotent.
func (l *Logistics) CancelRoute(ctx context.Context, routeID string) error {
	route, ok := l.store.GetRoute(ctx, routeID)
	if !ok {
		return nil
	}
	route.Status = RouteCancelled
	return l.store.SaveRoute(ctx, route)
}

// MemoryRoutes is the in-memory RouteStore.
type MemoryRoutes struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewMemoryRoutes returns an empty route store.
func NewMemoryRoutes() *MemoryRoutes {
	return &MemoryRoutes{routes: make(map[string]Route)}
}

func (m *MemoryRoutes) SaveRoute(ctx context.Context, route Route) error {
	if route.RouteID == "" {
		return fmt.Errorf("backend: route id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[route.RouteID] = route
	return nil
}

func (m *MemoryRoutes) GetRoute(ctx context.Context, routeID string) (Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	route, ok := m.routes[routeID]
	return route, ok
}

func (m *MemoryRoutes) DeleteRoute(ctx context.Context, routeID string) (Route, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	route, ok := m.routes[routeID]
	if ok {
		delete(m.routes, routeID)
	}
	return route, ok
}
