package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quantsim/sim-exchange/internal/metrics"
	"github.com/quantsim/sim-exchange/internal/model"
)

// KafkaConfig selects the brokers and topics for KafkaPublisher.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	OrdersTopic string   `yaml:"orders_topic"`
	TradesTopic string   `yaml:"trades_topic"`
}

// Enabled reports whether any broker is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order and trade updates as JSON, keyed by symbol so
// every symbol's updates stay ordered within one partition.
type KafkaPublisher struct {
	w      MessageWriter
	orders string
	trades string
	log    *slog.Logger
}

// NewKafkaPublisher creates an asynchronous publisher. Delivery failures
// are reported through the completion callback and never reach the engine.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			result := "ok"
			if err != nil {
				result = "error"
				logger.Warn("kafka delivery failed", "messages", len(msgs), "err", err)
			}
			for _, m := range msgs {
				metrics.EventsPublished.WithLabelValues(m.Topic, result).Inc()
			}
		},
	}
	return newKafkaPublisher(w, cfg, logger)
}

func newKafkaPublisher(w MessageWriter, cfg KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OrdersTopic == "" {
		cfg.OrdersTopic = "simx.orders"
	}
	if cfg.TradesTopic == "" {
		cfg.TradesTopic = "simx.trades"
	}
	return &KafkaPublisher{w: w, orders: cfg.OrdersTopic, trades: cfg.TradesTopic, log: logger}
}

// OrderUpdated implements exchange.Listener.
func (p *KafkaPublisher) OrderUpdated(ctx context.Context, o model.Order) {
	p.publish(ctx, p.orders, o.Symbol, Message{Type: TypeOrder, AccountID: o.AccountID, Order: &o})
}

// TradeExecuted implements exchange.Listener.
func (p *KafkaPublisher) TradeExecuted(ctx context.Context, t model.Trade) {
	p.publish(ctx, p.trades, t.Symbol, Message{Type: TypeTrade, AccountID: t.AccountID, Trade: &t})
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, msg Message) {
	value, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("encode event", "topic", topic, "err", err)
		return
	}
	err = p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: value})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		p.log.Warn("kafka publish failed", "topic", topic, "err", err)
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
