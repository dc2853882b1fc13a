// Package bus implements the message bus abstraction spec.md §4.5
// describes: symbolic-address publish/subscribe used both for local
// cross-endpoint delivery and, in cluster mode, inter-node routing,
// plus the request/reply pattern the metrics collector uses to poll
// subsystems. Grounded on other_examples/madcok-co-unicorn's
// contracts.Broker interface (Publish/Subscribe/Unsubscribe over a
// generic message, multiple driver backends), narrowed from that
// file's full producer/consumer-group surface to the address-routed
// pub/sub and request/reply shapes this broker actually needs.
package bus

import (
	"context"
	"time"
)

// Envelope is one message moving across the bus. Payload is opaque to
// the bus itself (the caller marshals/unmarshals); ReplyTo, when set on
// a Request, names the address a Reply must Publish its response to.
type Envelope struct {
	Address   string
	Payload   []byte
	ReplyTo   string
	Timestamp time.Time
}

// Handler processes one inbound Envelope. It has no return value, so a
// handler deals with its own failures; the bus guarantees at-least-once
// delivery and never retries a handler call itself.
type Handler func(ctx context.Context, env Envelope)

// Bus is the address-routed publish/subscribe/request-reply contract.
// A Local implementation only ever sees same-process publishers and
// subscribers; a Redis implementation fans the same address space out
// across cluster nodes. Both honor the per-address ordering guarantee
// spec.md §4.5 states: messages published to one address by one
// publisher arrive in publish order.
type Bus interface {
	// Publish delivers payload to every current subscriber of address.
	Publish(ctx context.Context, address string, payload []byte) error
	// Subscribe registers handler for address, returning a cancel func.
	Subscribe(ctx context.Context, address string, handler Handler) (cancel func(), err error)
	// Request publishes payload to address with a reply address, then
	// waits up to timeout for exactly one response. Used by the
	// metrics collector (spec.md §4.9a) with a 5s per-subsystem budget.
	Request(ctx context.Context, address string, payload []byte, timeout time.Duration) ([]byte, error)
	Close() error
}
