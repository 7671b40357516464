package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reservation-service/internal/config"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	kafkaSendTimeout = 5 * time.Second
	kafkaBaseDelay   = 100 * time.Millisecond
)

// KafkaEventPublisher implements EventPublisher using Kafka.
// The channel is used as message key so all events of a product land on one partition.
type KafkaEventPublisher struct {
	producer   sarama.SyncProducer
	breaker    *gobreaker.CircuitBreaker[any]
	logger     *zap.Logger
	topic      string
	maxRetries int
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(cfg *config.Config, logger *zap.Logger) (*KafkaEventPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.KafkaClientID
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Retry.Max = cfg.KafkaRetries
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Parse acks
	switch cfg.KafkaAcks {
	case "0":
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	case "1":
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	}
	// idempotent producers require acks=all
	if saramaConfig.Producer.RequiredAcks != sarama.WaitForAll {
		saramaConfig.Producer.Idempotent = false
	}

	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newKafkaEventPublisher(producer, cfg.KafkaTopicStock, cfg.KafkaRetries, logger), nil
}

func newKafkaEventPublisher(producer sarama.SyncProducer, topic string, maxRetries int, logger *zap.Logger) *KafkaEventPublisher {
	if maxRetries < 1 {
		maxRetries = 1
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "kafka-stock-events",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Kafka circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &KafkaEventPublisher{
		producer:   producer,
		breaker:    breaker,
		logger:     logger,
		topic:      topic,
		maxRetries: maxRetries,
	}
}

// Publish publishes an event to Kafka with retries and exponential backoff.
// While the breaker is open calls fail immediately with gobreaker.ErrOpenState.
func (p *KafkaEventPublisher) Publish(ctx context.Context, channel string, event Event) error {
	message, err := p.buildMessage(channel, event)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.sendWithRetry(ctx, message, event.EventType())
	})
	return err
}

func (p *KafkaEventPublisher) buildMessage(channel string, event Event) (*sarama.ProducerMessage, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(eventJSON),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(event.EventType())},
			{Key: []byte("event-id"), Value: []byte(uuid.New().String())},
			{Key: []byte("channel"), Value: []byte(channel)},
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}

func (p *KafkaEventPublisher) sendWithRetry(ctx context.Context, message *sarama.ProducerMessage, eventType string) error {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		lastErr = p.send(ctx, message)
		if lastErr == nil {
			return nil
		}

		p.logger.Warn("Failed to publish event to Kafka, retrying",
			zap.String("topic", p.topic),
			zap.String("event-type", eventType),
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.maxRetries),
		)

		// Exponential backoff: 100ms, 200ms, 400ms...
		if attempt < p.maxRetries-1 {
			delay := kafkaBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("failed to publish event to Kafka after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *KafkaEventPublisher) send(ctx context.Context, message *sarama.ProducerMessage) error {
	sendCtx, cancel := context.WithTimeout(ctx, kafkaSendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(message)
		if err == nil {
			p.logger.Debug("Event published to Kafka",
				zap.String("topic", message.Topic),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset),
			)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("timeout publishing event to Kafka: %w", sendCtx.Err())
	}
}

// Close closes the Kafka producer
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
