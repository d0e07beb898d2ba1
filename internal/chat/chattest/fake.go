// Package chattest provides an in-memory chat platform for tests.
package chattest

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
)

// Messenger implements chat.Messenger and chat.RoleSource in memory.
type Messenger struct {
	mu     sync.Mutex
	nextID int
	msgs   map[bus.Address][]chat.Message // oldest first

	// Roles maps sender id to role names.
	Roles map[string][]string

	SendErr  error
	EditErr  error
	ScanErr  error
	RolesErr error
	Edits    int
	Sends    int
	Deleted  []chat.MessageRef
	Unknown  map[string]bool // channels that do not resolve
}

func New() *Messenger {
	return &Messenger{
		msgs:    make(map[bus.Address][]chat.Message),
		Roles:   make(map[string][]string),
		Unknown: make(map[string]bool),
	}
}

// Post seeds a message into addr as if someone else had written it.
func (m *Messenger) Post(addr bus.Address, authorID, content string, fromSelf bool) chat.MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(addr, authorID, content, fromSelf)
}

func (m *Messenger) add(addr bus.Address, authorID, content string, fromSelf bool) chat.MessageRef {
	m.nextID++
	ref := chat.MessageRef{Address: addr, MessageID: strconv.Itoa(m.nextID)}
	m.msgs[addr] = append(m.msgs[addr], chat.Message{Ref: ref, AuthorID: authorID, FromSelf: fromSelf, Content: content})
	return ref
}

// Messages returns every message in addr, oldest first.
func (m *Messenger) Messages(addr bus.Address) []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message(nil), m.msgs[addr]...)
}

// WithPrefix returns the self-authored messages in addr starting with prefix.
func (m *Messenger) WithPrefix(addr bus.Address, prefix string) []chat.Message {
	var out []chat.Message
	for _, msg := range m.Messages(addr) {
		if msg.FromSelf && strings.HasPrefix(msg.Content, prefix) {
			out = append(out, msg)
		}
	}
	return out
}

// Remove deletes a message behind the bot's back.
func (m *Messenger) Remove(ref chat.MessageRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(ref)
}

func (m *Messenger) remove(ref chat.MessageRef) bool {
	list := m.msgs[ref.Address]
	for i, msg := range list {
		if msg.Ref.MessageID == ref.MessageID {
			m.msgs[ref.Address] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Messenger) SendMessage(_ context.Context, addr bus.Address, content string) (chat.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return chat.MessageRef{}, m.SendErr
	}
	if m.Unknown[addr.ChatID] {
		return chat.MessageRef{}, chat.ErrChannelNotFound
	}
	m.Sends++
	return m.add(addr, "bot", content, true), nil
}

func (m *Messenger) EditMessage(_ context.Context, ref chat.MessageRef, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	list := m.msgs[ref.Address]
	for i := range list {
		if list[i].Ref.MessageID == ref.MessageID {
			list[i].Content = content
			m.Edits++
			return nil
		}
	}
	return chat.ErrStaleHandle
}

func (m *Messenger) DeleteMessage(_ context.Context, ref chat.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, ref)
	if !m.remove(ref) {
		return chat.ErrStaleHandle
	}
	return nil
}

func (m *Messenger) RecentMessages(_ context.Context, addr bus.Address, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ScanErr != nil {
		return nil, m.ScanErr
	}
	list := m.msgs[addr]
	out := make([]chat.Message, 0, len(list))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *Messenger) RolesOf(_ context.Context, _ bus.Address, senderID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RolesErr != nil {
		return nil, m.RolesErr
	}
	return append([]string(nil), m.Roles[senderID]...), nil
}

// DeletedRefs returns every reference passed to DeleteMessage so far.
func (m *Messenger) DeletedRefs() []chat.MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.MessageRef(nil), m.Deleted...)
}

// Platform wraps a Messenger as a named channel that can be started,
// stopped and fed outbound bus messages.
type Platform struct {
	*Messenger
	PlatformName string
}

func NewPlatform(name string) *Platform {
	return &Platform{Messenger: New(), PlatformName: name}
}

func (p *Platform) Name() string                    { return p.PlatformName }
func (p *Platform) Start(ctx context.Context) error { return nil }
func (p *Platform) Stop() error                     { return nil }

func (p *Platform) Send(msg bus.OutboundMessage) error {
	_, err := p.SendMessage(context.Background(), msg.Address(), msg.Content)
	return err
}
