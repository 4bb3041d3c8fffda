package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeOrder(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	ctx := context.Background()

	for _, text := range []string{"um", "dois", "três"} {
		if err := mb.PublishInbound(ctx, InboundMessage{Identity: "5511999990001", Text: text}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for _, want := range []string{"um", "dois", "três"} {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok || msg.Text != want {
			t.Fatalf("got %q ok=%v, want %q", msg.Text, ok, want)
		}
	}
}

func TestPublishAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	if err := mb.PublishInbound(context.Background(), InboundMessage{Identity: "x"}); err != ErrBusClosed {
		t.Errorf("inbound err = %v, want ErrBusClosed", err)
	}
	if err := mb.PublishOutbound(context.Background(), OutboundMessage{Identity: "x"}); err != ErrBusClosed {
		t.Errorf("outbound err = %v, want ErrBusClosed", err)
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()
	done := make(chan bool, 1)
	go func() {
		_, ok := mb.ConsumeInbound(context.Background())
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	mb.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("consume after close must report not-ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer stayed blocked after close")
	}
}

func TestConsumeRespectsContext(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := mb.SubscribeOutbound(ctx); ok {
		t.Error("expired context must report not-ok")
	}
}
