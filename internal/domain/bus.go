package domain

import (
	"context"
)

// EventBus carries loads and decisions between the API and the async worker.
// The in-process channel bus is the default; NATS is used when loads arrive
// from other services.
type EventBus interface {
	// Publish queues payload on topic. It never blocks on slow subscribers.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every later message on topic to handler, one at a
	// time and in publish order.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered message. A returned error is logged
// and the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope delivered to handlers.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the event bus.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string `json:"type" yaml:"type"`

	// ChannelBufferSize bounds each channel subscription's queue.
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"-" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds
}

// Topics of the adjudication pipeline.
const (
	// TopicLoadSubmitted carries a domain.Transaction to adjudicate.
	TopicLoadSubmitted = "loadguard.load.submitted"

	// TopicLoadDecision carries the Decision for every adjudicated load.
	TopicLoadDecision = "loadguard.load.decision"

	// TopicLoadDeclined carries the full ProcessingResult of declined loads.
	TopicLoadDeclined = "loadguard.load.declined"
)
