// Package events публикует доменные события (начисления, выплаты) в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// Publisher — транспорт событий.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
	Close() error
}

// KafkaPublisher пишет события в Kafka асинхронно:
// решение о допуске не ждёт подтверждения брокера.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher создаёт писателя. Топик задаётся в каждом сообщении.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // события одного устройства — в одну партицию
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.WithError(err).WithField("count", len(messages)).Error("Не удалось отправить события в Kafka")
				}
			},
		},
	}
}

// Publish сериализует событие в JSON и ставит его в очередь отправки.
func (k *KafkaPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

// Close дожидается отправки буфера и закрывает соединения.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher — заглушка, когда KAFKA_BROKERS не задан.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }
