package channel

import (
	"context"
	"strings"

	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// Platform is a channel that also supports message editing, history scans
// and role lookup. Addresses passed to it always carry its own Name.
type Platform interface {
	Channel
	chat.Messenger
	chat.RoleSource
}

// Replier is implemented by platforms that can thread a sent message under
// an earlier one and still return its handle.
type Replier interface {
	SendReply(ctx context.Context, addr bus.Address, replyTo, content string) (chat.MessageRef, error)
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may talk to the bot. An empty allow
// list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

// splitContent cuts s into chunks of at most maxLen bytes, preferring to
// break at the last newline.
func splitContent(s string, maxLen int) []string {
	var chunks []string
	for len(s) > 0 {
		chunk := s
		if len(chunk) > maxLen {
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		s = s[len(chunk):]
		chunks = append(chunks, chunk)
	}
	return chunks
}
