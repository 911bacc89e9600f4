package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var received []*domain.Message

	_, err := b.Subscribe(ctx, "tenant-a", domain.TopicSnapshotIngested, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-a", domain.TopicSnapshotIngested, []byte(`{"merchant_id":"m-1"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message not delivered within 1s")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0].Topic != domain.TopicSnapshotIngested {
		t.Errorf("unexpected topic %s", received[0].Topic)
	}
	if received[0].TenantID != "tenant-a" {
		t.Errorf("unexpected tenant %s", received[0].TenantID)
	}
	if string(received[0].Payload) != `{"merchant_id":"m-1"}` {
		t.Errorf("unexpected payload %s", received[0].Payload)
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	b.Subscribe(ctx, "tenant-b", domain.TopicReportCreated, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})

	b.Publish(ctx, "tenant-a", domain.TopicReportCreated, []byte("for tenant a"))

	select {
	case msg := <-got:
		t.Fatalf("tenant-b received tenant-a's message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, "tenant-a", domain.TopicMerchantAlert, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if sub.Topic() != domain.TopicMerchantAlert {
		t.Errorf("unexpected topic %s", sub.Topic())
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	// Handler goroutine exit is asynchronous.
	time.Sleep(20 * time.Millisecond)

	b.Publish(ctx, "tenant-a", domain.TopicMerchantAlert, []byte("late"))
	select {
	case <-got:
		t.Fatal("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-a", "topic", nil); err == nil {
		t.Error("expected error publishing to closed bus")
	}
	if _, err := b.Subscribe(ctx, "tenant-a", "topic", nil); err == nil {
		t.Error("expected error subscribing to closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping failure on closed bus")
	}
}

func TestChannelBusTenantRequired(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenant")
	}
}

func TestNewBusConfig(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Close()

	if _, err := New(domain.EventBusConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
