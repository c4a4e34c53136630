package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// TopicOrderEvents - топик событий заказов по умолчанию.
const TopicOrderEvents = "storefront.order.events"

// HeaderEventType дублирует тип события в заголовке, чтобы потребители могли
// фильтровать сообщения без разбора тела.
const HeaderEventType = "x-event-type"

// EventPublisher реализует domain.EventPublisher поверх Producer.
// Ключ сообщения - номер заказа, поэтому события одного заказа попадают в одну партицию.
type EventPublisher struct {
	producer *Producer
	topic    string
}

// NewEventPublisher создаёт публикатор; пустой topic заменяется на TopicOrderEvents.
func NewEventPublisher(producer *Producer, topic string) *EventPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &EventPublisher{producer: producer, topic: topic}
}

// Publish сериализует событие в JSON и отправляет его.
func (p *EventPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}
	return p.producer.Send(p.topic, event.Reference, payload, map[string]string{
		HeaderEventType: string(event.Type),
	})
}

// ParseOrderEvent разбирает событие заказа из сообщения.
func ParseOrderEvent(message *sarama.ConsumerMessage) (domain.OrderEvent, error) {
	var event domain.OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return event, nil
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
