// Package archive defines the append-only archive sink contract
// (spec.md §4.6/§6: "topic, timestamp, payload, qos, retain-flag,
// client-id, optional user-properties") and its concrete backends.
package archive

import (
	"context"
	"time"

	"github.com/vogler75/monstermq/internal/model"
)

// Record is one archived row, matching the persisted layout spec.md §6
// names for archive stores.
type Record struct {
	Topic          string
	Timestamp      time.Time
	Payload        []byte
	QoS            model.QoS
	Retain         bool
	ClientID       string
	UserProperties []model.UserProperty
}

// RecordFromMessage builds a Record for the given archive group's sink
// from a published message.
func RecordFromMessage(msg *model.BrokerMessage) Record {
	return Record{
		Topic:          msg.Topic,
		Timestamp:      msg.CreatedAt,
		Payload:        append([]byte(nil), msg.Payload...),
		QoS:            msg.QoS,
		Retain:         msg.Retain,
		ClientID:       msg.OriginID,
		UserProperties: append([]model.UserProperty(nil), msg.UserProperties...),
	}
}

// Sink is an append-only archive backend: each matching published
// message is appended once, never updated or deleted by the engine.
type Sink interface {
	// Append writes one record. Implementations must not reorder
	// concurrent appends for the same topic relative to call order.
	Append(ctx context.Context, group string, rec Record) error
	// Close releases resources (producer connections, buffers).
	Close() error
}

// Purger is implemented by sinks that support spec.md §4.6's
// retention purge (`purgeOlderThan`). A log-structured sink such as
// KafkaSink does not implement it; retention there is a broker/topic
// configuration concern external to this process.
type Purger interface {
	PurgeOlderThan(ctx context.Context, group string, cutoff time.Time) error
}
