package endpoint

import (
	"context"

	"github.com/vogler75/monstermq/internal/bus"
	"github.com/vogler75/monstermq/internal/dispatch"
)

// subscribeBus installs this endpoint's bus subscription on its own
// client-delivery address, so a remote node's dispatch.Handler.route
// (publishing there when this node owns clientID) re-enters step 5
// locally, per spec.md §4.4.
func (e *Endpoint) subscribeBus(clientID string) {
	if e.deps.Bus == nil {
		return
	}
	cancel, err := e.deps.Bus.Subscribe(context.Background(), dispatch.ClientAddress(clientID), e.onBusEnvelope)
	if err != nil {
		e.log.Warn("bus subscribe failed", "client_id", clientID, "error", err)
		return
	}
	e.busCancel = cancel
}

func (e *Endpoint) onBusEnvelope(ctx context.Context, env bus.Envelope) {
	deliveries, err := dispatch.DecodeBulkEnvelope(env.Payload)
	if err != nil {
		e.log.Warn("bad bus envelope", "address", env.Address, "error", err)
		return
	}
	e.DeliverBulk(ctx, deliveries)
}
