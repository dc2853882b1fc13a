package lastvalue

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/gorm"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// gormRecord is the last-value projection's row shape, keyed by
// (Group, Topic) so one database can back every archive group's sink.
type gormRecord struct {
	Group     string `gorm:"primaryKey"`
	Topic     string `gorm:"primaryKey"`
	Payload   []byte
	QoS       byte
	Retain    bool
	CreatedAt time.Time
	Extra     []byte // msgpack-encoded properties not worth their own columns
}

func (gormRecord) TableName() string { return "last_values" }

type gormExtra struct {
	OriginID               string
	PayloadFormatIndicator *byte
	MessageExpiryInterval  *int64
	ContentType            *string
	ResponseTopic          *string
	CorrelationData        []byte
	UserProperties         []model.UserProperty
}

// GormSink is the "current-value projection" backend from SPEC_FULL.md
// §2a, backed by gorm.io/gorm against gorm.io/driver/sqlite (the ORM
// style seen for this concern in the example pack, as opposed to the
// raw database/sql the session/user stores use).
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&gormRecord{}); err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageFatal, "lastvalue.NewGormSink", 0, err)
	}
	return &GormSink{db: db}, nil
}

func (g *GormSink) Set(ctx context.Context, group string, msg *model.BrokerMessage) error {
	extra := gormExtra{
		OriginID:               msg.OriginID,
		PayloadFormatIndicator: msg.PayloadFormatIndicator,
		MessageExpiryInterval:  msg.MessageExpiryInterval,
		ContentType:            msg.ContentType,
		ResponseTopic:          msg.ResponseTopic,
		CorrelationData:        msg.CorrelationData,
		UserProperties:         msg.UserProperties,
	}
	blob, err := msgpack.Marshal(extra)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageFatal, "lastvalue.Set", 0, err)
	}
	rec := gormRecord{
		Group:     group,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		QoS:       byte(msg.QoS),
		Retain:    msg.Retain,
		CreatedAt: msg.CreatedAt,
		Extra:     blob,
	}
	err = g.db.WithContext(ctx).Save(&rec).Error
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "lastvalue.Set", 0, err)
	}
	return nil
}

func (g *GormSink) Get(ctx context.Context, group, topic string) (*model.BrokerMessage, bool, error) {
	var rec gormRecord
	err := g.db.WithContext(ctx).Where("\"group\" = ? AND topic = ?", group, topic).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mqtterr.Wrap(mqtterr.KindStorageTransient, "lastvalue.Get", 0, err)
	}

	var extra gormExtra
	if len(rec.Extra) > 0 {
		if err := msgpack.Unmarshal(rec.Extra, &extra); err != nil {
			return nil, false, mqtterr.Wrap(mqtterr.KindStorageFatal, "lastvalue.Get", 0, err)
		}
	}
	msg := &model.BrokerMessage{
		Topic:                  rec.Topic,
		Payload:                rec.Payload,
		QoS:                    model.QoS(rec.QoS),
		Retain:                 rec.Retain,
		OriginID:               extra.OriginID,
		CreatedAt:              rec.CreatedAt,
		PayloadFormatIndicator: extra.PayloadFormatIndicator,
		MessageExpiryInterval:  extra.MessageExpiryInterval,
		ContentType:            extra.ContentType,
		ResponseTopic:          extra.ResponseTopic,
		CorrelationData:        extra.CorrelationData,
		UserProperties:         extra.UserProperties,
	}
	return msg, true, nil
}

func (g *GormSink) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "lastvalue.Close", 0, err)
	}
	if err := sqlDB.Close(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "lastvalue.Close", 0, err)
	}
	return nil
}
