// Package eventbus publishes trade and order-update events onto Kafka
// topics for downstream consumers (settlement, analytics, replay capture),
// alongside the in-process fan-out internal/exchange already does for the
// REST/WS façades. Modeled on the teacher's
// internal/trading/messaging.KafkaClient: Bus is the writer side and
// Consumer (consumer.go) the reader side.
package eventbus

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/coredomain"
	"github.com/qtexchange/vexchange/internal/coreengine"
)

// Topics names the two streams this bus publishes.
type Topics struct {
	Trades       string
	OrderUpdates string
}

// DefaultTopics returns the conventional topic names.
func DefaultTopics() Topics {
	return Topics{Trades: "vexchange.trades", OrderUpdates: "vexchange.order-updates"}
}

// Bus writes engine events to Kafka, one writer per topic.
type Bus struct {
	trades  *kafka.Writer
	orders  *kafka.Writer
	log     *zap.Logger
}

// New builds writers for trades/order-updates (it does not connect to the
// brokers itself; kafka.Writer dials on first write), batching
// small and flushing fast since this is a low-latency trading event path.
func New(brokers []string, topics Topics, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 5 * time.Millisecond,
			WriteTimeout: time.Second,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			Compression:  kafka.Snappy,
		}
	}
	return &Bus{
		trades: newWriter(topics.Trades),
		orders: newWriter(topics.OrderUpdates),
		log:    log,
	}
}

// ListenEngine registers a listener on engine that republishes every trade
// and order-update event onto Kafka. Publish failures are logged, never
// fatal to the matching loop.
func (b *Bus) ListenEngine(engine *coreengine.Engine) {
	engine.AddListener(func(ev coreengine.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if ev.Trade != nil {
			if err := b.publishTrade(ctx, ev.Trade); err != nil {
				b.log.Error("publish trade failed", zap.Error(err), zap.String("symbol", ev.Trade.Symbol))
			}
		}
		if ev.Order != nil {
			if err := b.publishOrderUpdate(ctx, ev); err != nil {
				b.log.Error("publish order update failed", zap.Error(err), zap.String("order_id", ev.Order.ID.String()))
			}
		}
	})
}

func (b *Bus) publishTrade(ctx context.Context, t *coredomain.Trade) error {
	data, err := marshalTrade(t)
	if err != nil {
		return err
	}
	return b.trades.WriteMessages(ctx, kafka.Message{
		Key: []byte(t.Symbol), Value: data, Time: time.UnixMilli(t.Timestamp),
	})
}

func (b *Bus) publishOrderUpdate(ctx context.Context, ev coreengine.Event) error {
	data, err := marshalOrderUpdate(ev)
	if err != nil {
		return err
	}
	return b.orders.WriteMessages(ctx, kafka.Message{
		Key: []byte(ev.Order.UserID.String()), Value: data, Time: time.UnixMilli(ev.Order.UpdateTime),
	})
}

// Close flushes and closes both writers.
func (b *Bus) Close() error {
	if err := b.trades.Close(); err != nil {
		return err
	}
	return b.orders.Close()
}
