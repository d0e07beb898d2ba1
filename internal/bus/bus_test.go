package bus

import (
	"context"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input   string
		want    Address
		wantErr bool
	}{
		{"1456489075941834949", Address{Channel: "discord", ChatID: "1456489075941834949"}, false},
		{"telegram:-100123", Address{Channel: "telegram", ChatID: "-100123"}, false},
		{" Discord : 42 ", Address{Channel: "discord", ChatID: "42"}, false},
		{"", Address{}, true},
		{"telegram:", Address{}, true},
		{":42", Address{}, true},
	}

	for _, tt := range tests {
		got, err := ParseAddress(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestAddress_String(t *testing.T) {
	a := Address{Channel: "telegram", ChatID: "7"}
	if a.String() != "telegram:7" {
		t.Errorf("String = %q", a.String())
	}
	if a.IsZero() {
		t.Error("address should not be zero")
	}
	if !(Address{}).IsZero() {
		t.Error("empty address should be zero")
	}
}

func TestMessageBus_DispatchOutbound(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("discord", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	if !b.TryPublish(OutboundMessage{Channel: "discord", ChatID: "1", Content: "hi"}) {
		t.Fatal("TryPublish returned false on empty queue")
	}

	select {
	case msg := <-got:
		if msg.Content != "hi" {
			t.Errorf("content = %q, want hi", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
}

func TestMessageBus_TryPublishFull(t *testing.T) {
	b := NewMessageBus(1)
	if !b.TryPublish(OutboundMessage{Channel: "x"}) {
		t.Fatal("first publish should succeed")
	}
	if b.TryPublish(OutboundMessage{Channel: "x"}) {
		t.Error("second publish should be dropped when queue is full")
	}
}
