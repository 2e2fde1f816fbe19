package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/orderlink/orderlink/internal/backend"
)

// ErrOrderNotFound is returned for lookups of unknown order ids.
var ErrOrderNotFound = errors.New("orchestrator: order not found")

// OrderStore persists orders. Save must be durable before it returns: a crash
// after a state transition must not lose the transition.
type OrderStore interface {
	Save(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
}

// MemoryStore keeps orders in process memory. Used by tests and by
// single-node runs without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (s *MemoryStore) Save(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneOrder(order)
	cp.UpdatedAt = time.Now().UTC()
	order.UpdatedAt = cp.UpdatedAt
	s.orders[cp.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, cloneOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]backend.LineItem(nil), o.Items...)
	cp.SagaLog = make([]SagaStep, len(o.SagaLog))
	for i, s := range o.SagaLog {
		step := s
		if s.Data != nil {
			step.Data = make(map[string]any, len(s.Data))
			for k, v := range s.Data {
				step.Data[k] = v
			}
		}
		if s.Compensation != nil {
			comp := *s.Compensation
			step.Compensation = &comp
		}
		cp.SagaLog[i] = step
	}
	return &cp
}
