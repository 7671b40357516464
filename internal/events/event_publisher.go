package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	EventTypeStockReserved = "stock-reserved"
	EventTypeStockReleased = "stock-released"
)

// Event is a payload that can be fanned out on a real-time channel
type Event interface {
	EventType() string
	PartitionKey() string
}

// EventPublisher defines the interface for publishing stock change events
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// ChannelFor returns the per-product real-time channel name
func ChannelFor(productID string) string {
	return "product-" + productID
}

// StockReservedEvent is published when a checkout places holds on a product
type StockReservedEvent struct {
	ProductID           string    `json:"productId"`
	ProductName         string    `json:"productName"`
	ReservedQuantity    int       `json:"reservedQuantity"`
	AvailableStock      int       `json:"availableStock"`
	ReservedByUserID    string    `json:"reservedByUserId,omitempty"`
	ReservedBySessionID string    `json:"reservedBySessionId,omitempty"`
	OccurredAt          time.Time `json:"occurredAt"`
}

func (e StockReservedEvent) EventType() string    { return EventTypeStockReserved }
func (e StockReservedEvent) PartitionKey() string { return e.ProductID }

// StockReleasedEvent is published when holds are cancelled or expire.
// Consumers cannot tell a timeout from an explicit release.
type StockReleasedEvent struct {
	ProductID        string    `json:"productId"`
	ProductName      string    `json:"productName"`
	ReleasedQuantity int       `json:"releasedQuantity"`
	AvailableStock   int       `json:"availableStock"`
	OccurredAt       time.Time `json:"occurredAt"`
}

func (e StockReleasedEvent) EventType() string    { return EventTypeStockReleased }
func (e StockReleasedEvent) PartitionKey() string { return e.ProductID }

// PublishedEvent is an event captured by the in-memory publisher
type PublishedEvent struct {
	Channel string
	Event   Event
}

// InMemoryEventPublisher records events instead of sending them anywhere
type InMemoryEventPublisher struct {
	mu     sync.Mutex
	logger *zap.Logger
	events []PublishedEvent
}

func NewInMemoryEventPublisher(logger *zap.Logger) *InMemoryEventPublisher {
	return &InMemoryEventPublisher{
		logger: logger,
		events: make([]PublishedEvent, 0),
	}
}

func (p *InMemoryEventPublisher) Publish(ctx context.Context, channel string, event Event) error {
	p.mu.Lock()
	p.events = append(p.events, PublishedEvent{Channel: channel, Event: event})
	p.mu.Unlock()

	p.logger.Debug("Event published (in-memory)",
		zap.String("channel", channel),
		zap.String("event-type", event.EventType()),
	)
	return nil
}

// Events returns a copy of everything published so far
func (p *InMemoryEventPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Clear drops recorded events
func (p *InMemoryEventPublisher) Clear() {
	p.mu.Lock()
	p.events = p.events[:0]
	p.mu.Unlock()
}

// FanoutEventPublisher sends every event to all wrapped publishers
type FanoutEventPublisher struct {
	publishers []EventPublisher
}

func NewFanoutEventPublisher(publishers ...EventPublisher) *FanoutEventPublisher {
	return &FanoutEventPublisher{publishers: publishers}
}

// Publish tries every publisher even when one fails
func (p *FanoutEventPublisher) Publish(ctx context.Context, channel string, event Event) error {
	var errs []error
	for _, publisher := range p.publishers {
		if err := publisher.Publish(ctx, channel, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEventPublisher only logs events; used when no event bus is reachable
type LogEventPublisher struct {
	logger *zap.Logger
}

func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	return &LogEventPublisher{logger: logger}
}

func (p *LogEventPublisher) Publish(ctx context.Context, channel string, event Event) error {
	p.logger.Info("Event published (log only)",
		zap.String("channel", channel),
		zap.String("event-type", event.EventType()),
		zap.String("partition-key", event.PartitionKey()),
	)
	return nil
}
