package metrics

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// gormRecord is the persisted row shape for a BrokerMetrics sample.
type gormRecord struct {
	ID                uint `gorm:"primaryKey"`
	Kind              string
	NodeID            string
	Timestamp         time.Time
	MessagesIn        int64
	MessagesOut       int64
	BytesIn           int64
	BytesOut          int64
	PublishDropped    int64
	SubscriptionCount int64
	ConnectedClients  int64
}

func (gormRecord) TableName() string { return "broker_metrics" }

// GormStore is the SQL Store backend, reusing the last-value store's
// gorm.io/gorm + gorm.io/driver/sqlite driver choice (SPEC_FULL.md
// §4.9a) rather than introducing a third SQL access style alongside
// database/sql and gorm. The serve command does not wire it.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&gormRecord{}); err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageFatal, "metrics.NewGormStore", 0, err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) RecordMetrics(ctx context.Context, kind string, m BrokerMetrics) error {
	rec := gormRecord{
		Kind:              kind,
		NodeID:            m.NodeID,
		Timestamp:         m.Timestamp,
		MessagesIn:        m.MessagesIn,
		MessagesOut:       m.MessagesOut,
		BytesIn:           m.BytesIn,
		BytesOut:          m.BytesOut,
		PublishDropped:    m.PublishDropped,
		SubscriptionCount: m.SubscriptionCount,
		ConnectedClients:  m.ConnectedClients,
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "metrics.RecordMetrics", 0, err)
	}
	return nil
}
