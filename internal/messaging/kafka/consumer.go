package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderEventHandler обрабатывает событие заказа. Ошибка оставляет сообщение
// непомеченным, и оно будет прочитано снова после перебалансировки.
type OrderEventHandler func(ctx context.Context, event domain.OrderEvent) error

// ConsumerConfig - параметры consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// FromOldest начинает чтение новой группы с начала топика.
	FromOldest bool
}

// Consumer читает события заказов в составе consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler OrderEventHandler
	logger  *log.Entry
	wg      sync.WaitGroup
}

// NewConsumer создаёт consumer group.
func NewConsumer(cfg ConsumerConfig, handler OrderEventHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Consumer.Return.Errors = true

	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{TopicOrderEvents}
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler OrderEventHandler) *Consumer {
	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		logger:  log.WithField("component", "kafka-consumer"),
	}
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждой перебалансировке.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if c.handle(session.Context(), message) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle возвращает true, если сообщение можно пометить прочитанным.
// Неразборчивые сообщения помечаются: повторное чтение их не исправит.
func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) bool {
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}

	event, err := ParseOrderEvent(message)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("skipping malformed order event")
		return true
	}
	if err := c.handler(ctx, event); err != nil {
		c.logger.WithError(err).WithFields(fields).WithField("order_ref", event.Reference).
			Error("order event handler failed")
		return false
	}
	return true
}
