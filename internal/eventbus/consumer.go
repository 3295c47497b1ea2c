package eventbus

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Consumer reads trade/order-update envelopes off the same topics Bus
// writes to. It exists for a WS gateway instance that scales independently
// of the process running the matching engine: rather than subscribing to
// Exchange callbacks in-process, such a gateway bridges off the bus
// instead. Grounded on the teacher's internal/marketdata/pubsub.go
// KafkaPubSub.Subscribe (kafka.NewReader plus a blocking ReadMessage loop
// per topic).
type Consumer struct {
	trades, orders *kafka.Reader
	log            *zap.Logger
}

// NewConsumer builds a Consumer reading topics as a member of groupID, so
// multiple gateway replicas share partitions rather than each reading every
// message.
func NewConsumer(brokers []string, topics Topics, groupID string, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	newReader := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: groupID})
	}
	return &Consumer{trades: newReader(topics.Trades), orders: newReader(topics.OrderUpdates), log: log}
}

// ConsumeTrades blocks, dispatching decoded trade envelopes to onTrade until
// ctx is canceled or the reader errors. Run in its own goroutine.
func (c *Consumer) ConsumeTrades(ctx context.Context, onTrade func(TradeEnvelope)) {
	for {
		m, err := c.trades.ReadMessage(ctx)
		if err != nil {
			c.log.Warn("kafka trade consume stopped", zap.Error(err))
			return
		}
		var env TradeEnvelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			c.log.Error("malformed trade envelope", zap.Error(err))
			continue
		}
		onTrade(env)
	}
}

// ConsumeOrderUpdates blocks, dispatching decoded order-update envelopes to
// onUpdate until ctx is canceled or the reader errors. Run in its own
// goroutine.
func (c *Consumer) ConsumeOrderUpdates(ctx context.Context, onUpdate func(OrderUpdateEnvelope)) {
	for {
		m, err := c.orders.ReadMessage(ctx)
		if err != nil {
			c.log.Warn("kafka order-update consume stopped", zap.Error(err))
			return
		}
		var env OrderUpdateEnvelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			c.log.Error("malformed order-update envelope", zap.Error(err))
			continue
		}
		onUpdate(env)
	}
}

// Close releases both underlying readers.
func (c *Consumer) Close() error {
	err := c.trades.Close()
	if oerr := c.orders.Close(); err == nil {
		err = oerr
	}
	return err
}
