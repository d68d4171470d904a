package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/pkg/logger"
)

// LifecycleProducer интерфейс для отправки событий жизненного цикла подписок
type LifecycleProducer interface {
	NotifyLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error
	Close() error
}

type kafkaLifecycleProducer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaLifecycleProducer создает новый продюсер событий жизненного цикла
func NewKafkaLifecycleProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) LifecycleProducer {
	return &kafkaLifecycleProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

// NotifyLifecycleEvent публикует событие перехода подписки. Ключ сообщения
// равен ID подписки, так что события одной подписки упорядочены в пределах
// партиции.
func (p *kafkaLifecycleProducer) NotifyLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.SubscriptionID.String()),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_kind"),
				Value: []byte(event.Kind),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}

	p.log.Info("Published lifecycle event %s to topic %s: partition=%d offset=%d",
		event.Kind, p.topic, partition, offset)

	return nil
}

// Close закрывает продюсер
func (p *kafkaLifecycleProducer) Close() error {
	return p.producer.Close()
}

// noopLifecycleProducer заглушка для окружений без Kafka
type noopLifecycleProducer struct{}

// NewNoopLifecycleProducer создает продюсер, который никуда не публикует
func NewNoopLifecycleProducer() LifecycleProducer {
	return noopLifecycleProducer{}
}

func (noopLifecycleProducer) NotifyLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	return nil
}

func (noopLifecycleProducer) Close() error {
	return nil
}
