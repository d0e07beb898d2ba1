package bus

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPlatform is assumed when an address carries no platform prefix.
const DefaultPlatform = "discord"

// Address names one conversation channel on one platform.
type Address struct {
	Channel string // platform name, e.g. "discord" or "telegram"
	ChatID  string
}

// ParseAddress parses "platform:chatID". A bare chat ID is a Discord channel.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	platform, chatID, ok := strings.Cut(s, ":")
	if !ok {
		return Address{Channel: DefaultPlatform, ChatID: s}, nil
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	chatID = strings.TrimSpace(chatID)
	if platform == "" || chatID == "" {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return Address{Channel: platform, ChatID: chatID}, nil
}

func (a Address) String() string {
	return a.Channel + ":" + a.ChatID
}

func (a Address) IsZero() bool {
	return a.ChatID == ""
}

type InboundMessage struct {
	Channel   string
	ChatID    string
	MessageID string
	SenderID  string
	Sender    string // stable username/tag used as the ledger actor
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) Address() Address {
	return Address{Channel: m.Channel, ChatID: m.ChatID}
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
	// DeleteAfter > 0 makes the message a timed notice that the channel
	// removes again once the duration has passed.
	DeleteAfter time.Duration
}

func (m *OutboundMessage) Address() Address {
	return Address{Channel: m.Channel, ChatID: m.ChatID}
}
