package eventbus

import (
	"testing"
)

func TestNewConsumerBuildsReadersWithoutDialing(t *testing.T) {
	// kafka.NewReader never dials eagerly, so this is safe to construct and
	// close without a live broker.
	c := NewConsumer([]string{"127.0.0.1:9092"}, DefaultTopics(), "vexchange-ws-gateway", nil)
	if c.trades == nil || c.orders == nil {
		t.Fatal("expected both readers to be constructed")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error closing unconnected readers: %v", err)
	}
}
