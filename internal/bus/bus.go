package bus

import (
	"context"
	"log"
	"sync"
)

type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string][]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string][]func(OutboundMessage)),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// TryPublish queues msg for outbound delivery without blocking. It reports
// false when the queue is full and the message was dropped.
func (b *MessageBus) TryPublish(msg OutboundMessage) bool {
	select {
	case b.Outbound <- msg:
		return true
	default:
		return false
	}
}

func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handlers := b.subs[msg.Channel]
			b.mu.RUnlock()
			if len(handlers) == 0 {
				log.Printf("[bus] no subscriber for channel %s, dropping message", msg.Channel)
				continue
			}
			for _, h := range handlers {
				h(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
