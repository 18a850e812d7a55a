// Package kafka provides the Kafka producer and consumer used by the health service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/quantumlayerhq/ql-health/pkg/config"
	"github.com/quantumlayerhq/ql-health/pkg/logger"
	"github.com/quantumlayerhq/ql-health/pkg/telemetry"
)

// Event types carried in the envelope.
const (
	EventProjectSnapshot = "health.snapshot"
	EventAlert           = "health.alert"
)

// Producer is a Kafka message producer.
type Producer struct {
	producer sarama.SyncProducer
	logger   *logger.Logger
}

// DefaultRetryBackoff is how long Subscribe waits before rejoining after a
// handler failure.
const DefaultRetryBackoff = time.Second

// Consumer is a Kafka message consumer.
type Consumer struct {
	consumer     sarama.ConsumerGroup
	logger       *logger.Logger
	retryBackoff time.Duration
}

// Message represents a Kafka message.
type Message struct {
	Key       string
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string
}

// Event is the envelope for every message on the health topics.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent marshals data into a new envelope.
func NewEvent(eventType, source string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// NewProducer creates a new Kafka producer.
func NewProducer(cfg config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	// Alerts for one project land on one partition, in order.
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewProducerFromSync(producer, log), nil
}

// NewProducerFromSync wraps an existing sync producer.
func NewProducerFromSync(producer sarama.SyncProducer, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.Nop()
	}
	return &Producer{
		producer: producer,
		logger:   log.WithComponent("kafka-producer"),
	}
}

// Publish publishes a message to the given topic. The trace context of ctx
// travels in the message headers.
func (p *Producer) Publish(ctx context.Context, topic string, key string, value any) error {
	ctx, span := telemetry.MessagingSpan(ctx, "publish", topic)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: msg})

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("failed to send message: %w", err)
	}
	span.SetAttribute("messaging.kafka.partition", int(partition))
	span.SetOK()

	p.logger.DebugContext(ctx, "message published",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

// PublishEvent publishes an event keyed by key.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event Event) error {
	return p.Publish(ctx, topic, key, event)
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// Health checks the Kafka connection health.
func (p *Producer) Health(ctx context.Context, brokers []string) error {
	cfg := sarama.NewConfig()
	cfg.Net.DialTimeout = 5 * time.Second

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer client.Close()

	return nil
}

// MessageHandler handles incoming Kafka messages.
type MessageHandler func(ctx context.Context, msg Message) error

// ConsumerGroupHandler implements sarama.ConsumerGroupHandler.
type ConsumerGroupHandler struct {
	handler MessageHandler
	logger  *logger.Logger
	failed  atomic.Bool
}

// NewConsumerGroupHandler adapts handler to sarama.
func NewConsumerGroupHandler(handler MessageHandler, log *logger.Logger) *ConsumerGroupHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ConsumerGroupHandler{handler: handler, logger: log}
}

// Setup is called at the beginning of a new session.
func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is called at the end of a session.
func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a partition. When a handler fails the
// claim stops with the partition offset pointing at the failed message, which
// ends the session; the next session resumes from that message.
func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consume(session, msg); err != nil {
				h.failed.Store(true)
				session.ResetOffset(msg.Topic, msg.Partition, msg.Offset, "")
				return fmt.Errorf("failed to process %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
		}
	}
}

// takeFailure reports whether a claim failed since the last call.
func (h *ConsumerGroupHandler) takeFailure() bool {
	return h.failed.Swap(false)
}

func (h *ConsumerGroupHandler) consume(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		headers[string(header.Key)] = string(header.Value)
	}

	message := Message{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
		Headers:   headers,
	}

	ctx := otel.GetTextMapPropagator().Extract(session.Context(), propagation.MapCarrier(headers))
	if err := h.handler(ctx, message); err != nil {
		h.logger.WithError(err).ErrorContext(ctx, "failed to process message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return err
	}

	session.MarkMessage(msg, "")
	return nil
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(cfg config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return NewConsumerFromGroup(group, log), nil
}

// NewConsumerFromGroup wraps an existing consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		consumer:     group,
		logger:       log.WithComponent("kafka-consumer"),
		retryBackoff: DefaultRetryBackoff,
	}
}

// Subscribe consumes topics with handler until ctx is cancelled or the group
// is closed. Rebalances and handler failures re-enter Consume; after a failure
// it waits retryBackoff so a failing dependency is not hammered.
func (c *Consumer) Subscribe(ctx context.Context, topics []string, handler MessageHandler) error {
	groupHandler := NewConsumerGroupHandler(handler, c.logger)

	for {
		if err := c.consumer.Consume(ctx, topics, groupHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).ErrorContext(ctx, "consumer error")
			return fmt.Errorf("consumer error: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if groupHandler.takeFailure() {
			c.logger.WarnContext(ctx, "handler failed, rejoining group", "backoff", c.retryBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}
	}
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	if c.consumer != nil {
		return c.consumer.Close()
	}
	return nil
}

// headerCarrier injects trace context into producer message headers.
type headerCarrier struct {
	msg *sarama.ProducerMessage
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if string(h.Key) == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = string(h.Key)
	}
	return keys
}
