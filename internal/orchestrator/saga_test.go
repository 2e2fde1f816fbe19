package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/orderlink/orderlink/internal/backend"
	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/logging"
	"github.com/orderlink/orderlink/internal/notify"
	"github.com/orderlink/orderlink/internal/resilience"
)

type recordedCall struct {
	OpType string
	Params map[string]any
}

// stubClient fakes one protocol client. respond decides the outcome per
// operation type.
type stubClient struct {
	calls   []recordedCall
	respond func(opType string, params map[string]any) (map[string]any, error)
}

func (s *stubClient) Call(_ context.Context, opType string, params map[string]any) (map[string]any, error) {
	s.calls = append(s.calls, recordedCall{OpType: opType, Params: params})
	if s.respond != nil {
		return s.respond(opType, params)
	}
	return map[string]any{}, nil
}

func happyWarehouse() *stubClient {
	return &stubClient{respond: func(opType string, _ map[string]any) (map[string]any, error) {
		switch opType {
		case "CREATE_PACKAGE":
			return map[string]any{"packageId": "PKG-1", "zone": "ZONE-A"}, nil
		default:
			return map[string]any{}, nil
		}
	}}
}

func happyLogistics() *stubClient {
	return &stubClient{respond: func(opType string, _ map[string]any) (map[string]any, error) {
		switch opType {
		case "OPTIMIZE_ROUTE":
			return map[string]any{"routeId": "RTE-1", "vehicle": "VAN-1", "eta": "soon"}, nil
		default:
			return map[string]any{}, nil
		}
	}}
}

func happyLegacy() *stubClient {
	return &stubClient{respond: func(opType string, _ map[string]any) (map[string]any, error) {
		switch opType {
		case "SUBMIT_ORDER":
			return map[string]any{"referenceId": "LEG-1"}, nil
		default:
			return map[string]any{}, nil
		}
	}}
}

func testPolicy() resilience.Policy {
	return resilience.Policy{MaxRetries: 0, Interval: time.Millisecond}
}

func testItems() []backend.LineItem {
	return []backend.LineItem{{SKU: "ITEM-001", Quantity: 2}}
}

func newTestSaga(store OrderStore, warehouse, logistics, legacy *stubClient) *Saga {
	return NewSaga(store, warehouse, logistics, legacy, testPolicy(), nil, logging.Nop())
}

func TestSagaHappyPathCompletesOrder(t *testing.T) {
	store := NewMemoryStore()
	warehouse, logistics, legacy := happyWarehouse(), happyLogistics(), happyLegacy()
	saga := newTestSaga(store, warehouse, logistics, legacy)

	order, err := saga.SubmitOrder(context.Background(), "CLI-1", testItems(), "Madrid")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, order.Status)
	require.True(t, order.Terminal())

	require.Len(t, order.SagaLog, 3)
	require.Equal(t, []string{StepWarehouse, StepLogistics, StepLegacy}, []string{
		order.SagaLog[0].Step, order.SagaLog[1].Step, order.SagaLog[2].Step,
	})
	for _, step := range order.SagaLog {
		require.Equal(t, StepCompleted, step.Status)
		require.Nil(t, step.Compensation)
	}
	require.Equal(t, "PKG-1", order.SagaLog[0].Data["packageId"])
	require.Equal(t, "RTE-1", order.SagaLog[1].Data["routeId"])
	require.Equal(t, "LEG-1", order.SagaLog[2].Data["referenceId"])

	// The terminal state must be what was persisted.
	persisted, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, persisted.Status)
	require.Len(t, persisted.SagaLog, 3)
}

func TestSagaFailsAtFirstStepWithoutCompensation(t *testing.T) {
	store := NewMemoryStore()
	warehouse := &stubClient{respond: func(string, map[string]any) (map[string]any, error) {
		return nil, &envelope.Fault{Code: envelope.FaultCodeInsufficient, Message: "Insufficient quantity for SKU ITEM-004: requested 15, available 10"}
	}}
	logistics, legacy := happyLogistics(), happyLegacy()
	saga := newTestSaga(store, warehouse, logistics, legacy)

	order, err := saga.SubmitOrder(context.Background(), "CLI-1", testItems(), "Berlin")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, order.Status)

	// Nothing completed, so the saga log stays empty; the failure lives on
	// the order itself.
	require.Empty(t, order.SagaLog)
	require.Equal(t, StepWarehouse, order.FailedStep)
	require.Contains(t, order.Error, "ITEM-004")

	// No step completed, so nothing to compensate and no later step ran.
	require.Empty(t, logistics.calls)
	require.Empty(t, legacy.calls)
}

func TestSagaCompensatesInReverseOrderOnLastStepFailure(t *testing.T) {
	store := NewMemoryStore()
	warehouse, logistics := happyWarehouse(), happyLogistics()
	legacy := &stubClient{respond: func(opType string, _ map[string]any) (map[string]any, error) {
		if opType == "SUBMIT_ORDER" {
			return nil, &envelope.Fault{Code: envelope.FaultCodeLegacyRefused, Message: "legacy system refused order"}
		}
		return map[string]any{}, nil
	}}
	saga := newTestSaga(store, warehouse, logistics, legacy)

	order, err := saga.SubmitOrder(context.Background(), "CLI-1", testItems(), "Lisbon")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, order.Status)

	// Completed steps must be compensated most-recent-first: the route
	// cancellation happens before the package release.
	require.Equal(t, "CANCEL_ROUTE", logistics.calls[len(logistics.calls)-1].OpType)
	require.Equal(t, "RTE-1", logistics.calls[len(logistics.calls)-1].Params["routeId"])
	require.Equal(t, "RELEASE_PACKAGE", warehouse.calls[len(warehouse.calls)-1].OpType)
	require.Equal(t, "PKG-1", warehouse.calls[len(warehouse.calls)-1].Params["packageId"])

	// Only the two completed steps appear in the log, both compensated; the
	// failed step is recorded on the order, not as a log entry.
	require.Len(t, order.SagaLog, 2)
	var compensated []string
	for _, step := range order.SagaLog {
		require.Equal(t, StepCompleted, step.Status)
		require.NotNil(t, step.Compensation)
		require.Equal(t, StepCompleted, step.Compensation.Status)
		compensated = append(compensated, step.Step)
	}
	require.Equal(t, []string{StepWarehouse, StepLogistics}, compensated)
	require.Equal(t, StepLegacy, order.FailedStep)
	require.NotEmpty(t, order.Error)
}

func TestSagaCompensationFailureIsRecordedNotEscalated(t *testing.T) {
	store := NewMemoryStore()
	warehouse := &stubClient{respond: func(opType string, _ map[string]any) (map[string]any, error) {
		switch opType {
		case "CREATE_PACKAGE":
			return map[string]any{"packageId": "PKG-1"}, nil
		case "RELEASE_PACKAGE":
			return nil, errors.New("warehouse unreachable")
		}
		return map[string]any{}, nil
	}}
	logistics := &stubClient{respond: func(opType string, _ map[string]any) (map[string]any, error) {
		return nil, &envelope.Fault{Code: envelope.FaultCodeInternal, Message: "no vehicles"}
	}}
	legacy := happyLegacy()
	saga := newTestSaga(store, warehouse, logistics, legacy)

	order, err := saga.SubmitOrder(context.Background(), "CLI-1", testItems(), "Oslo")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, order.Status)

	require.Len(t, order.SagaLog, 1)
	require.Equal(t, StepWarehouse, order.SagaLog[0].Step)
	require.Equal(t, StepLogistics, order.FailedStep)
	require.NotNil(t, order.SagaLog[0].Compensation)
	require.Equal(t, StepFailed, order.SagaLog[0].Compensation.Status)
	require.Contains(t, order.SagaLog[0].Compensation.Error, "unreachable")

	// The failure and the compensation outcome must both be persisted.
	persisted, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, persisted.Status)
	require.NotNil(t, persisted.SagaLog[0].Compensation)
}

func TestSagaStatusIsMonotonic(t *testing.T) {
	store := NewMemoryStore()
	saga := newTestSaga(store, happyWarehouse(), happyLogistics(), happyLegacy())

	order, err := saga.SubmitOrder(context.Background(), "CLI-1", testItems(), "Madrid")
	require.NoError(t, err)

	// Every persisted snapshot moves strictly forward:
	// PENDING -> PROCESSING -> terminal, never back.
	persisted, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, persisted.Terminal())
	require.Equal(t, order.Status, persisted.Status)
}

type failingSinkPublisher struct{}

func (failingSinkPublisher) Publish(string, ...*message.Message) error {
	return errors.New("sink unavailable")
}

func (failingSinkPublisher) Close() error { return nil }

func TestSagaSurvivesNotificationSinkOutage(t *testing.T) {
	store := NewMemoryStore()
	sink := notify.NewSink(failingSinkPublisher{}, logging.Nop())
	saga := NewSaga(store, happyWarehouse(), happyLogistics(), happyLegacy(), testPolicy(), sink, logging.Nop())

	order, err := saga.SubmitOrder(context.Background(), "CLI-1", testItems(), "Madrid")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, order.Status)
}
