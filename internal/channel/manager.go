package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
	"github.com/stellarlinkco/stashbot/internal/config"
)

// ChannelManager owns the enabled platforms. It routes outbound bus traffic
// to them and implements chat.Messenger and chat.RoleSource by dispatching
// on Address.Channel.
type ChannelManager struct {
	channels map[string]Platform
	bus      *bus.MessageBus

	timers sync.WaitGroup
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Platform),
		bus:      b,
	}

	if cfg.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Discord, b)
		if err != nil {
			return nil, fmt.Errorf("init discord channel: %w", err)
		}
		m.Register(ch)
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Register(ch)
	}

	return m, nil
}

// Register adds a platform and subscribes it to outbound messages for its name.
func (m *ChannelManager) Register(p Platform) {
	m.channels[p.Name()] = p
	if m.bus == nil {
		return
	}
	m.bus.SubscribeOutbound(p.Name(), func(msg bus.OutboundMessage) {
		if err := m.deliver(p, msg); err != nil {
			log.Printf("[channel-mgr] send to %s failed: %v", p.Name(), err)
		}
	})
}

// deliver sends msg. Timed notices are sent as one message, threaded under
// ReplyTo when the platform supports it, and deleted again once DeleteAfter
// has passed.
func (m *ChannelManager) deliver(p Platform, msg bus.OutboundMessage) error {
	if msg.DeleteAfter <= 0 {
		return p.Send(msg)
	}
	var (
		ref chat.MessageRef
		err error
	)
	if r, ok := p.(Replier); ok && msg.ReplyTo != "" {
		ref, err = r.SendReply(context.Background(), msg.Address(), msg.ReplyTo, msg.Content)
	} else {
		ref, err = p.SendMessage(context.Background(), msg.Address(), msg.Content)
	}
	if err != nil {
		return err
	}
	m.deleteAfter(p, ref, msg.DeleteAfter)
	return nil
}

func (m *ChannelManager) deleteAfter(p Platform, ref chat.MessageRef, d time.Duration) {
	m.timers.Add(1)
	time.AfterFunc(d, func() {
		defer m.timers.Done()
		if err := p.DeleteMessage(context.Background(), ref); err != nil {
			log.Printf("[channel-mgr] delete notice %s failed: %v", ref.MessageID, err)
		}
	})
}

// Wait blocks until all pending notice deletions have run.
func (m *ChannelManager) Wait() {
	m.timers.Wait()
}

func (m *ChannelManager) platform(addr bus.Address) (Platform, error) {
	p, ok := m.channels[addr.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: platform %q not enabled", chat.ErrChannelNotFound, addr.Channel)
	}
	return p, nil
}

func (m *ChannelManager) SendMessage(ctx context.Context, addr bus.Address, content string) (chat.MessageRef, error) {
	p, err := m.platform(addr)
	if err != nil {
		return chat.MessageRef{}, err
	}
	return p.SendMessage(ctx, addr, content)
}

func (m *ChannelManager) EditMessage(ctx context.Context, ref chat.MessageRef, content string) error {
	p, err := m.platform(ref.Address)
	if err != nil {
		return err
	}
	return p.EditMessage(ctx, ref, content)
}

func (m *ChannelManager) DeleteMessage(ctx context.Context, ref chat.MessageRef) error {
	p, err := m.platform(ref.Address)
	if err != nil {
		return err
	}
	return p.DeleteMessage(ctx, ref)
}

func (m *ChannelManager) RecentMessages(ctx context.Context, addr bus.Address, limit int) ([]chat.Message, error) {
	p, err := m.platform(addr)
	if err != nil {
		return nil, err
	}
	return p.RecentMessages(ctx, addr, limit)
}

func (m *ChannelManager) RolesOf(ctx context.Context, addr bus.Address, senderID string) ([]string, error) {
	p, err := m.platform(addr)
	if err != nil {
		return nil, err
	}
	return p.RolesOf(ctx, addr, senderID)
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
