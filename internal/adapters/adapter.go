// Package adapters exposes the three inbound protocol surfaces (HTTP+JSON,
// XML-RPC style, and the binary TCP protocol) and the matching outbound
// clients. Every adapter converts its native request into a canonical
// envelope, performs one request/reply round trip over the broker, and maps
// the reply or failure back into the protocol's own error shape.
package adapters

import (
	"context"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
)

// BrokerCaller is the request/reply surface the adapters depend on.
// *broker.Client satisfies it.
type BrokerCaller interface {
	RequestReply(ctx context.Context, queue string, env envelope.Envelope, timeout time.Duration) (envelope.Reply, error)
}

// Operation is one externally callable backend operation: its canonical
// envelope type and the queue its worker consumes.
type Operation struct {
	Type  string
	Queue string
}

// Operations is the single routing table shared by every adapter, keyed by
// "{service}/{operation}" as it appears in HTTP paths.
var Operations = map[string]Operation{
	"warehouse/create-package":  {Type: "CREATE_PACKAGE", Queue: envelope.QueueWarehouse},
	"warehouse/package-status":  {Type: "GET_PACKAGE_STATUS", Queue: envelope.QueueWarehouse},
	"warehouse/release-package": {Type: "RELEASE_PACKAGE", Queue: envelope.QueueWarehouse},
	"routing/optimize-route":    {Type: "OPTIMIZE_ROUTE", Queue: envelope.QueueRouting},
	"routing/get-route":         {Type: "GET_ROUTE", Queue: envelope.QueueRouting},
	"routing/update-route":      {Type: "UPDATE_ROUTE", Queue: envelope.QueueRouting},
	"routing/cancel-route":      {Type: "CANCEL_ROUTE", Queue: envelope.QueueRouting},
	"clients/submit-order":      {Type: "SUBMIT_ORDER", Queue: envelope.QueueClients},
	"clients/order-status":      {Type: "GET_ORDER_STATUS", Queue: envelope.QueueClients},
	"clients/cancel-order":      {Type: "CANCEL_ORDER", Queue: envelope.QueueClients},
	"clients/verify-client":     {Type: "VERIFY_CLIENT", Queue: envelope.QueueClients},
}

// OperationByType resolves an envelope type back to its operation entry.
func OperationByType(envType string) (Operation, bool) {
	for _, op := range Operations {
		if op.Type == envType {
			return op, true
		}
	}
	return Operation{}, false
}
