package backend

import (
	"context"
	"sync"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/ids"
)

// LegacyStore persists registrations made against the legacy order system.
type LegacyStore interface {
	SaveRegistration(ctx context.Context, reg Registration) error
	GetRegistration(ctx context.Context, referenceID string) (Registration, bool)
	FindByOrder(ctx context.Context, orderID string) (Registration, bool)
}

// Registration is a record in the legacy order system.
type Registration struct {
	ReferenceID  string    `json:"referenceId"`
	OrderID      string    `json:"orderId"`
	ClientID     string    `json:"clientId"`
	Status       string    `json:"legacyStatus"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Legacy registration statuses.
const (
	LegacyRegistered = "REGISTERED"
	LegacyCancelled  = "CANCELLED"
)

// Legacy emulates the legacy order system behind the clients worker.
// RefuseOrders flips every submission into a fault, which the saga tests use
// to drive the compensation path.
type Legacy struct {
	store LegacyStore

	mu           sync.RWMutex
	refuseOrders bool
}

// NewLegacy builds a Legacy service over the supplied store.
func NewLegacy(store LegacyStore) *Legacy {
	return &Legacy{store: store}
}

// SetRefuseOrders toggles submission refusal.
func (l *Legacy) SetRefuseOrders(refuse bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refuseOrders = refuse
}

// Submit registers the order with the legacy system. Re-submitting an already
// registered order returns the existing registration.
func (l *Legacy) Submit(ctx context.Context, orderID, clientID string) (Registration, error) {
	if orderID == "" {
		return Registration{}, envelope.NewFault(envelope.FaultCodeInternal, "orderId is required")
	}

	l.mu.RLock()
	refuse := l.refuseOrders
	l.mu.RUnlock()
	if refuse {
		return Registration{}, envelope.NewFault(envelope.FaultCodeLegacyRefused,
			"legacy system refused order %s", orderID)
	}

	if existing, ok := l.store.FindByOrder(ctx, orderID); ok && existing.Status == LegacyRegistered {
		return existing, nil
	}

	reg := Registration{
		ReferenceID:  "LEG-" + ids.New(),
		OrderID:      orderID,
		ClientID:     clientID,
		Status:       LegacyRegistered,
		RegisteredAt: time.Now().UTC(),
	}
	if err := l.store.SaveRegistration(ctx, reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// Status returns the stored registration.
func (l *Legacy) Status(ctx context.Context, referenceID string) (Registration, error) {
	reg, ok := l.store.GetRegistration(ctx, referenceID)
	if !ok {
		return Registration{}, envelope.NewFault(envelope.FaultCodeNotFound, "registration %s not found", referenceID)
	}
	return reg, nil
}

// Cancel marks the registration cancelled. Unknown references are a no-op.
func (l *Legacy) Cancel(ctx context.Context, referenceID string) error {
	reg, ok := l.store.GetRegistration(ctx, referenceID)
	if !ok {
		return nil
	}
	reg.Status = LegacyCancelled
	return l.store.SaveRegistration(ctx, reg)
}

// MemoryLegacy is the in-memory LegacyStore.
type MemoryLegacy struct {
	mu            sync.RWMutex
	registrations map[string]Registration
}

// NewMemoryLegacy returns an empty legacy store.
func NewMemoryLegacy() *MemoryLegacy {
	return &MemoryLegacy{registrations: make(map[string]Registration)}
}

func (m *MemoryLegacy) SaveRegistration(ctx context.Context, reg Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations[reg.ReferenceID] = reg
	return nil
}

func (m *MemoryLegacy) GetRegistration(ctx context.Context, referenceID string) (Registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.registrations[referenceID]
	return reg, ok
}

func (m *MemoryLegacy) FindByOrder(ctx context.Context, orderID string) (Registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reg := range m.registrations {
		if reg.OrderID == orderID {
			return reg, true
		}
	}
	return Registration{}, false
}
