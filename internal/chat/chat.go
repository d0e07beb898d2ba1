// Package chat defines the narrow boundary between the ledger core and a chat
// platform: sending, editing, deleting and scanning messages, and looking up
// the role names of an actor.
package chat

import (
	"context"
	"errors"

	"github.com/stellarlinkco/stashbot/internal/bus"
)

var (
	// ErrStaleHandle is returned by EditMessage when the message no longer exists.
	ErrStaleHandle = errors.New("chat: stale message handle")
	// ErrChannelNotFound is returned when an address does not resolve to a channel.
	ErrChannelNotFound = errors.New("chat: channel not found")
)

// MessageRef identifies one message in one channel.
type MessageRef struct {
	Address   bus.Address
	MessageID string
}

func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

// Message is one entry of a channel's recent history.
type Message struct {
	Ref      MessageRef
	AuthorID string
	FromSelf bool // authored by this bot
	Content  string
}

type Messenger interface {
	SendMessage(ctx context.Context, addr bus.Address, content string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, content string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, addr bus.Address, limit int) ([]Message, error)
}

type RoleSource interface {
	RolesOf(ctx context.Context, addr bus.Address, senderID string) ([]string, error)
}
