// Package lastvalue defines the current-value projection contract
// spec.md §4.6 names ("write current value to last-value sink,
// overwriting by topic") and its concrete backends.
package lastvalue

import (
	"context"

	"github.com/vogler75/monstermq/internal/model"
)

// Sink is the overwrite-by-topic current-value projection for an
// archive group: each matching published message replaces whatever was
// previously stored for its topic.
type Sink interface {
	Set(ctx context.Context, group string, msg *model.BrokerMessage) error
	Get(ctx context.Context, group, topic string) (*model.BrokerMessage, bool, error)
	Close() error
}
