package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}, nil
}

// Publish keys messages by aggregate id so events of one transaction stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(partitionKey),
		Value:   payload,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
