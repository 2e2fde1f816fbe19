package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orderlink/orderlink/internal/adapters"
	"github.com/orderlink/orderlink/internal/backend"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/metrics"
	"github.com/orderlink/orderlink/internal/notify"
	"github.com/orderlink/orderlink/internal/resilience"
)

// sagaStep binds a step name to its forward call and its compensation. The
// forward call returns the fields recorded in the saga log; the compensation
// receives those fields back when the step must be undone.
type sagaStep struct {
	name       string
	execute    func(ctx context.Context, order *Order) (map[string]any, error)
	compensate func(ctx context.Context, order *Order, data map[string]any) error
}

// Saga runs the order workflow. Each backend is reached through a different
// protocol client so every adapter surface is exercised end to end.
type Saga struct {
	store     OrderStore
	warehouse adapters.Client
	logistics adapters.Client
	legacy    adapters.Client
	retry     resilience.Policy
	sink      *notify.Sink
	log       logging.ServiceLogger
	steps     []sagaStep
}

func NewSaga(store OrderStore, warehouse, logistics, legacy adapters.Client, retry resilience.Policy, sink *notify.Sink, log logging.ServiceLogger) *Saga {
	s := &Saga{
		store:     store,
		warehouse: warehouse,
		logistics: logistics,
		legacy:    legacy,
		retry:     retry,
		sink:      sink,
		log:       log,
	}
	s.steps = []sagaStep{
		{name: StepWarehouse, execute: s.reserveInventory, compensate: s.releasePackage},
		{name: StepLogistics, execute: s.scheduleDelivery, compensate: s.cancelRoute},
		{name: StepLegacy, execute: s.registerLegacy, compensate: s.cancelLegacyOrder},
	}
	return s
}

// SubmitOrder creates the order and drives the saga to a terminal state. The
// returned order reflects the final status including the full saga log.
func (s *Saga) SubmitOrder(ctx context.Context, clientID string, items []backend.LineItem, destination string) (*Order, error) {
	now := time.Now().UTC()
	order := &Order{
		ID:          "ORD-" + uuid.NewString(),
		ClientID:    clientID,
		Items:       items,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("orchestrator: persist new order: %w", err)
	}
	s.sink.Emit(notify.Event{OrderID: order.ID, ClientID: clientID, Status: notify.EventCreated})

	order.Status = StatusProcessing
	if err := s.store.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("orchestrator: persist processing transition: %w", err)
	}

	for i, step := range s.steps {
		data, err := s.runStep(ctx, order, step)
		if err != nil {
			s.failOrder(ctx, order, step.name, err, i)
			return order, nil
		}
		entry := SagaStep{
			Step:   step.name,
			Status: StepCompleted,
			Data:   data,
			At:     time.Now().UTC().Format(time.RFC3339),
		}
		order.SagaLog = append(order.SagaLog, entry)
		metrics.SagaStepsTotal.WithLabelValues(step.name, StepCompleted).Inc()
		if err := s.store.Save(ctx, order); err != nil {
			return nil, fmt.Errorf("orchestrator: persist step %s: %w", step.name, err)
		}
		s.sink.Emit(notify.Event{OrderID: order.ID, Status: notify.EventStepDone, Step: step.name})
	}

	order.Status = StatusCompleted
	if err := s.store.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("orchestrator: persist completion: %w", err)
	}
	s.sink.Emit(notify.Event{OrderID: order.ID, Status: notify.EventCompleted})
	return order, nil
}

func (s *Saga) runStep(ctx context.Context, order *Order, step sagaStep) (map[string]any, error) {
	var data map[string]any
	err := s.retry.Do(ctx, "saga."+step.name, func(ctx context.Context) error {
		fields, err := step.execute(ctx, order)
		if err != nil {
			return err
		}
		data = fields
		return nil
	})
	return data, err
}

// failOrder persists the failure and compensates the already completed steps
// in reverse order. The saga log keeps only the completed steps; the failed
// step and its cause are recorded on the order itself. failedIndex is the
// position of the failed step in s.steps.
func (s *Saga) failOrder(ctx context.Context, order *Order, stepName string, cause error, failedIndex int) {
	s.log.Error("saga step failed", cause, logging.LogFields{"order_id": order.ID, "step": stepName})
	metrics.SagaStepsTotal.WithLabelValues(stepName, StepFailed).Inc()

	order.FailedStep = stepName
	order.Error = cause.Error()
	order.Status = StatusFailed
	if err := s.store.Save(ctx, order); err != nil {
		s.log.Error("persisting failed order", err, logging.LogFields{"order_id": order.ID})
	}
	s.sink.Emit(notify.Event{OrderID: order.ID, Status: notify.EventFailed, Step: stepName, Message: cause.Error()})

	s.compensate(ctx, order, failedIndex)
}

// compensate undoes the completed steps before failedIndex, most recent
// first. Compensation failures are recorded and logged, never escalated; the
// order stays FAILED regardless.
func (s *Saga) compensate(ctx context.Context, order *Order, failedIndex int) {
	for i := failedIndex - 1; i >= 0; i-- {
		step := s.steps[i]
		entry := s.findCompletedEntry(order, step.name)
		if entry == nil {
			continue
		}

		result := CompensationResult{Status: StepCompleted, At: time.Now().UTC().Format(time.RFC3339)}
		err := s.retry.Do(ctx, "compensate."+step.name, func(ctx context.Context) error {
			return step.compensate(ctx, order, entry.Data)
		})
		if err != nil {
			s.log.Error("compensation failed", err, logging.LogFields{"order_id": order.ID, "step": step.name})
			result.Status = StepFailed
			result.Error = err.Error()
		}
		entry.Compensation = &result
		if err := s.store.Save(ctx, order); err != nil {
			s.log.Error("persisting compensation outcome", err, logging.LogFields{"order_id": order.ID})
		}
		s.sink.Emit(notify.Event{
			OrderID: order.ID,
			Status:  notify.EventCompensation,
			Step:    step.name,
			Message: result.Status,
		})
	}
}

func (s *Saga) findCompletedEntry(order *Order, stepName string) *SagaStep {
	for i := range order.SagaLog {
		if order.SagaLog[i].Step == stepName && order.SagaLog[i].Status == StepCompleted {
			return &order.SagaLog[i]
		}
	}
	return nil
}

func (s *Saga) reserveInventory(ctx context.Context, order *Order) (map[string]any, error) {
	items := make([]map[string]any, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, map[string]any{"sku": it.SKU, "quantity": it.Quantity})
	}
	fields, err := s.warehouse.Call(ctx, "CREATE_PACKAGE", map[string]any{
		"orderId":     order.ID,
		"items":       items,
		"destination": order.Destination,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"packageId": fields["packageId"], "zone": fields["zone"]}, nil
}

func (s *Saga) releasePackage(ctx context.Context, order *Order, data map[string]any) error {
	packageID, _ := data["packageId"].(string)
	if packageID == "" {
		return nil
	}
	_, err := s.warehouse.Call(ctx, "RELEASE_PACKAGE", map[string]any{"packageId": packageID})
	return err
}

func (s *Saga) scheduleDelivery(ctx context.Context, order *Order) (map[string]any, error) {
	fields, err := s.logistics.Call(ctx, "OPTIMIZE_ROUTE", map[string]any{
		"orderId":     order.ID,
		"destination": order.Destination,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"routeId": fields["routeId"], "vehicle": fields["vehicle"], "eta": fields["eta"]}, nil
}

func (s *Saga) cancelRoute(ctx context.Context, order *Order, data map[string]any) error {
	routeID, _ := data["routeId"].(string)
	if routeID == "" {
		return nil
	}
	_, err := s.logistics.Call(ctx, "CANCEL_ROUTE", map[string]any{"routeId": routeID})
	return err
}

func (s *Saga) registerLegacy(ctx context.Context, order *Order) (map[string]any, error) {
	fields, err := s.legacy.Call(ctx, "SUBMIT_ORDER", map[string]any{
		"orderId":  order.ID,
		"clientId": order.ClientID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"referenceId": fields["referenceId"]}, nil
}

func (s *Saga) cancelLegacyOrder(ctx context.Context, order *Order, data map[string]any) error {
	referenceID, _ := data["referenceId"].(string)
	if referenceID == "" {
		return nil
	}
	_, err := s.legacy.Call(ctx, "CANCEL_ORDER", map[string]any{"referenceId": referenceID})
	return err
}
