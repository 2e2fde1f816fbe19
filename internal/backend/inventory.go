// Package backend hosts the downstream business services reached by the
// workers: warehouse inventory, route planning, the legacy order system, and
// the client directory. They stand in for external systems, but their state
// lives behind store interfaces created at process start and injected, so a
// durable backing store can replace them without changing call sites.
package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
)

// InventoryStore tracks stock levels and package reservations.
type InventoryStore interface {
	Available(ctx context.Context, sku string) (int, bool)
	Reserve(ctx context.Context, sku string, quantity int) error
	Release(ctx context.Context, sku string, quantity int) error
	SavePackage(ctx context.Context, pkg Package) error
	GetPackage(ctx context.Context, packageID string) (Package, bool)
	DeletePackage(ctx context.Context, packageID string) (Package, bool)
}

// Package is a warehouse reservation for one order.
type Package struct {
	PackageID   string     `json:"packageId"`
	OrderID     string     `json:"orderId"`
	Items       []LineItem `json:"items"`
	Destination string     `json:"destination"`
	Zone        string     `json:"zone"`
	ReservedAt  time.Time  `json:"reservedAt"`
}

// LineItem is a sku/quantity pair.
type LineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Warehouse implements the inventory operations behind the warehouse worker.
type Warehouse struct {
	store InventoryStore
}

// NewWarehouse builds a Warehouse over the supplied store.
func NewWarehouse(store InventoryStore) *Warehouse {
	return &Warehouse{store: store}
}

// CreatePackage reserves stock for every item and records the reservation.
// Any shortage aborts the whole reservation and releases what was taken.
func (w *Warehouse) CreatePackage(ctx context.Context, orderID string, items []LineItem, destination string) (Package, error) {
	if orderID == "" {
		return Package{}, envelope.NewFault(envelope.FaultCodeInternal, "orderId is required")
	}
	if len(items) == 0 {
		return Package{}, envelope.NewFault(envelope.FaultCodeInternal, "order has no items")
	}

	reserved := make([]LineItem, 0, len(items))
	for _, item := range items {
		available, ok := w.store.Available(ctx, item.SKU)
		if !ok {
			w.rollback(ctx, reserved)
			return Package{}, envelope.NewFault(envelope.FaultCodeNotFound, "unknown SKU %s", item.SKU)
		}
		if available < item.Quantity {
			w.rollback(ctx, reserved)
			return Package{}, envelope.NewFault(envelope.FaultCodeInsufficient,
				"Insufficient quantity for SKU %s: requested %d, available %d", item.SKU, item.Quantity, available)
		}
		if err := w.store.Reserve(ctx, item.SKU, item.Quantity); err != nil {
			w.rollback(ctx, reserved)
			return Package{}, err
		}
		reserved = append(reserved, item)
	}

	pkg := Package{
		PackageID:   "PKG-" + ids.New(),
		OrderID:     orderID,
		Items:       items,
		Destination: destination,
		Zone:        ZoneFor(destination),
		ReservedAt:  time.Now().UTC(),
	}
	if err := w.store.SavePackage(ctx, pkg); err != nil {
		w.rollback(ctx, reserved)
		return Package{}, err
	}
	return pkg, nil
}

// PackageStatus returns the stored reservation.
func (w *Warehouse) PackageStatus(ctx context.Context, packageID string) (Package, error) {
	pkg, ok := w.store.GetPackage(ctx, packageID)
	if !ok {
		return Package{}, envelope.NewFault(envelope.FaultCodeNotFound, "package %s not found", packageID)
	}
	return pkg, nil
}

// ReleasePackage is the compensation for CreatePackage: it returns the
// reserved stock and removes the reservation. Releasing an unknown package is
// a no-op so compensation stays idempotent.
func (w *Warehouse) ReleasePackage(ctx context.Context, packageID string) error {
	pkg, ok := w.store.DeletePackage(ctx, packageID)
	if !ok {
		return nil
	}
	w.rollback(ctx, pkg.Items)
	return nil
}

func (w *Warehouse) rollback(ctx context.Context, items []LineItem) {
	for _, item := range items {
		_ = w.store.Release(ctx, item.SKU, item.Quantity)
	}
}

// ZoneFor maps a destination to a delivery zone.
func ZoneFor(destination string) string {
	trimmed := strings.TrimSpace(strings.ToUpper(destination))
	if trimmed == "" {
		return "ZONE-DEFAULT"
	}
	switch {
	case trimmed[0] <= 'F':
		return "ZONE-A"
	case trimmed[0] <= 'M':
		return "ZONE-B"
	case trimmed[0] <= 'S':
		return "ZONE-C"
	default:
		return "ZONE-D"
	}
}

// MemoryInventory is the in-memory InventoryStore used by the warehouse
// worker and the tests.
type MemoryInventory struct {
	mu       sync.RWMutex
	stock    map[string]int
	packages map[string]Package
}

// NewMemoryInventory seeds the store with the provided stock levels.
func NewMemoryInventory(stock map[string]int) *MemoryInventory {
	cloned := make(map[string]int, len(stock))
	for sku, qty := range stock {
		cloned[sku] = qty
	}
	return &MemoryInventory{
		stock:    cloned,
		packages: make(map[string]Package),
	}
}

// DefaultStock is the demo inventory loaded when no seed is supplied.
func DefaultStock() map[string]int {
	return map[string]int{
		"ITEM-001": 100,
		"ITEM-002": 50,
		"ITEM-003": 25,
		"ITEM-004": 10,
	}
}

func (m *MemoryInventory) Available(ctx context.Context, sku string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qty, ok := m.stock[sku]
	return qty, ok
}

func (m *MemoryInventory) Reserve(ctx context.Context, sku string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	available, ok := m.stock[sku]
	if !ok {
		return envelope.NewFault(envelope.FaultCodeNotFound, "unknown SKU %s", sku)
	}
	if available < quantity {
		return envelope.NewFault(envelope.FaultCodeInsufficient,
			"Insufficient quantity for SKU %s: requested %d, available %d", sku, quantity, available)
	}
	m.stock[sku] = available - quantity
	return nil
}

func (m *MemoryInventory) Release(ctx context.Context, sku string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[sku] += quantity
	return nil
}

func (m *MemoryInventory) SavePackage(ctx context.Context, pkg Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[pkg.PackageID] = pkg
	return nil
}

func (m *MemoryInventory) GetPackage(ctx context.Context, packageID string) (Package, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.packages[packageID]
	return pkg, ok
}

func (m *MemoryInventory) DeletePackage(ctx context.Context, packageID string) (Package, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[packageID]
	if ok {
		delete(m.packages, packageID)
	}
	return pkg, ok
}
