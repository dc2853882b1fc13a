package archive

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// KafkaSink is the "Kafka-like append-only log" backend spec.md §4.6
// names: one Kafka topic per archive group (topicPrefix+group), keyed
// by the MQTT topic so a per-topic consumer can recover ordering, with
// the record msgpack-encoded as the message value.
type KafkaSink struct {
	producer    sarama.SyncProducer
	topicPrefix string
}

func NewKafkaSink(brokers []string, topicPrefix string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageFatal, "archive.NewKafkaSink", 0, err)
	}
	if topicPrefix == "" {
		topicPrefix = "monstermq.archive."
	}
	return &KafkaSink{producer: producer, topicPrefix: topicPrefix}, nil
}

func (k *KafkaSink) Append(_ context.Context, group string, rec Record) error {
	blob, err := msgpack.Marshal(rec)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageFatal, "archive.Append", 0, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topicPrefix + group,
		Key:   sarama.StringEncoder(rec.Topic),
		Value: sarama.ByteEncoder(blob),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "archive.Append", 0, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if err := k.producer.Close(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "archive.Close", 0, err)
	}
	return nil
}
