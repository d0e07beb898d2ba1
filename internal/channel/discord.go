package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
	"github.com/stellarlinkco/stashbot/internal/config"
)

const (
	discordChannelName = "discord"
	discordMaxLen      = 1900
	discordScanMax     = 100 // Discord caps one history page at 100 messages
)

// DiscordSession is the slice of the Discord API the channel uses. It exists
// so tests can run without a gateway connection.
type DiscordSession interface {
	Open() error
	Close() error
	SelfID() string
	OnMessageCreate(fn func(*discordgo.MessageCreate))
	ChannelMessageSend(channelID, content string) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string) error
	ChannelMessages(channelID string, limit int) ([]*discordgo.Message, error)
	Channel(channelID string) (*discordgo.Channel, error)
	GuildMember(guildID, userID string) (*discordgo.Member, error)
	GuildRoles(guildID string) ([]*discordgo.Role, error)
}

// discordSessionWrapper adapts *discordgo.Session to DiscordSession
type discordSessionWrapper struct {
	s *discordgo.Session
}

func (w *discordSessionWrapper) Open() error  { return w.s.Open() }
func (w *discordSessionWrapper) Close() error { return w.s.Close() }

func (w *discordSessionWrapper) SelfID() string {
	if w.s.State == nil || w.s.State.User == nil {
		return ""
	}
	return w.s.State.User.ID
}

func (w *discordSessionWrapper) OnMessageCreate(fn func(*discordgo.MessageCreate)) {
	w.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		fn(m)
	})
}

func (w *discordSessionWrapper) ChannelMessageSend(channelID, content string) (*discordgo.Message, error) {
	return w.s.ChannelMessageSend(channelID, content)
}

func (w *discordSessionWrapper) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference) (*discordgo.Message, error) {
	return w.s.ChannelMessageSendReply(channelID, content, ref)
}

func (w *discordSessionWrapper) ChannelMessageEdit(channelID, messageID, content string) (*discordgo.Message, error) {
	return w.s.ChannelMessageEdit(channelID, messageID, content)
}

func (w *discordSessionWrapper) ChannelMessageDelete(channelID, messageID string) error {
	return w.s.ChannelMessageDelete(channelID, messageID)
}

func (w *discordSessionWrapper) ChannelMessages(channelID string, limit int) ([]*discordgo.Message, error) {
	return w.s.ChannelMessages(channelID, limit, "", "", "")
}

func (w *discordSessionWrapper) Channel(channelID string) (*discordgo.Channel, error) {
	return w.s.Channel(channelID)
}

func (w *discordSessionWrapper) GuildMember(guildID, userID string) (*discordgo.Member, error) {
	return w.s.GuildMember(guildID, userID)
}

func (w *discordSessionWrapper) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	return w.s.GuildRoles(guildID)
}

// SessionFactory creates DiscordSession instances (allows mocking)
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMembers |
		discordgo.IntentMessageContent
	return &discordSessionWrapper{s: s}, nil
}

type DiscordChannel struct {
	BaseChannel
	token   string
	session DiscordSession
	factory SessionFactory

	mu     sync.Mutex
	guilds map[string]string // channel ID -> guild ID
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, b, defaultSessionFactory)
}

// NewDiscordChannelWithFactory creates a DiscordChannel with a custom session factory (for testing)
func NewDiscordChannelWithFactory(cfg config.DiscordConfig, b *bus.MessageBus, factory SessionFactory) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel(discordChannelName, b, nil),
		token:       cfg.Token,
		factory:     factory,
		guilds:      make(map[string]string),
	}, nil
}

// SetSession sets the session (for testing)
func (d *DiscordChannel) SetSession(s DiscordSession) {
	d.session = s
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	s, err := d.factory(d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	d.session = s
	s.OnMessageCreate(d.handleMessage)
	if err := s.Open(); err != nil {
		d.session = nil
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Printf("[discord] connected as %s", s.SelfID())
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.session == nil {
		return nil
	}
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	log.Printf("[discord] stopped")
	return nil
}

func (d *DiscordChannel) handleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot || (d.session != nil && m.Author.ID == d.session.SelfID()) {
		return
	}
	if m.Content == "" {
		return
	}
	if m.GuildID != "" {
		d.mu.Lock()
		d.guilds[m.ChannelID] = m.GuildID
		d.mu.Unlock()
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	d.bus.Inbound <- bus.InboundMessage{
		Channel:   discordChannelName,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		SenderID:  m.Author.ID,
		Sender:    m.Author.Username,
		Content:   m.ContentWithMentionsReplaced(),
		Timestamp: ts,
		Metadata: map[string]any{
			"guild_id": m.GuildID,
		},
	}
}

func (d *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	for i, chunk := range splitContent(msg.Content, discordMaxLen) {
		var err error
		if i == 0 && msg.ReplyTo != "" {
			_, err = d.session.ChannelMessageSendReply(msg.ChatID, chunk, &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChatID,
			})
		} else {
			_, err = d.session.ChannelMessageSend(msg.ChatID, chunk)
		}
		if err != nil {
			return fmt.Errorf("send discord message: %w", discordError(err, chat.ErrChannelNotFound))
		}
	}
	return nil
}

func (d *DiscordChannel) SendMessage(ctx context.Context, addr bus.Address, content string) (chat.MessageRef, error) {
	return d.SendReply(ctx, addr, "", content)
}

// SendReply sends content as a reply to replyTo, or as a plain message when
// replyTo is empty.
func (d *DiscordChannel) SendReply(_ context.Context, addr bus.Address, replyTo, content string) (chat.MessageRef, error) {
	if d.session == nil {
		return chat.MessageRef{}, fmt.Errorf("discord session not initialized")
	}
	var (
		m   *discordgo.Message
		err error
	)
	if replyTo != "" {
		m, err = d.session.ChannelMessageSendReply(addr.ChatID, content, &discordgo.MessageReference{
			MessageID: replyTo,
			ChannelID: addr.ChatID,
		})
	} else {
		m, err = d.session.ChannelMessageSend(addr.ChatID, content)
	}
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("send discord message: %w", discordError(err, chat.ErrChannelNotFound))
	}
	return chat.MessageRef{Address: addr, MessageID: m.ID}, nil
}

func (d *DiscordChannel) EditMessage(_ context.Context, ref chat.MessageRef, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	if _, err := d.session.ChannelMessageEdit(ref.Address.ChatID, ref.MessageID, content); err != nil {
		return fmt.Errorf("edit discord message: %w", discordError(err, chat.ErrStaleHandle))
	}
	return nil
}

func (d *DiscordChannel) DeleteMessage(_ context.Context, ref chat.MessageRef) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	if err := d.session.ChannelMessageDelete(ref.Address.ChatID, ref.MessageID); err != nil {
		return fmt.Errorf("delete discord message: %w", discordError(err, chat.ErrStaleHandle))
	}
	return nil
}

func (d *DiscordChannel) RecentMessages(_ context.Context, addr bus.Address, limit int) ([]chat.Message, error) {
	if d.session == nil {
		return nil, fmt.Errorf("discord session not initialized")
	}
	if limit <= 0 || limit > discordScanMax {
		limit = discordScanMax
	}
	msgs, err := d.session.ChannelMessages(addr.ChatID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan discord channel: %w", discordError(err, chat.ErrChannelNotFound))
	}
	self := d.session.SelfID()
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		var author string
		if m.Author != nil {
			author = m.Author.ID
		}
		out = append(out, chat.Message{
			Ref:      chat.MessageRef{Address: addr, MessageID: m.ID},
			AuthorID: author,
			FromSelf: author != "" && author == self,
			Content:  m.Content,
		})
	}
	return out, nil
}

// RolesOf resolves the names of the guild roles held by senderID.
func (d *DiscordChannel) RolesOf(_ context.Context, addr bus.Address, senderID string) ([]string, error) {
	if d.session == nil {
		return nil, fmt.Errorf("discord session not initialized")
	}
	guildID, err := d.guildOf(addr.ChatID)
	if err != nil {
		return nil, err
	}
	member, err := d.session.GuildMember(guildID, senderID)
	if err != nil {
		return nil, fmt.Errorf("get guild member: %w", discordError(err, chat.ErrChannelNotFound))
	}
	roles, err := d.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("get guild roles: %w", discordError(err, chat.ErrChannelNotFound))
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	out := make([]string, 0, len(member.Roles))
	for _, id := range member.Roles {
		if name, ok := names[id]; ok {
			out = append(out, name)
		}
	}
	return out, nil
}

func (d *DiscordChannel) guildOf(channelID string) (string, error) {
	d.mu.Lock()
	guildID, ok := d.guilds[channelID]
	d.mu.Unlock()
	if ok {
		return guildID, nil
	}
	ch, err := d.session.Channel(channelID)
	if err != nil {
		return "", fmt.Errorf("get discord channel: %w", discordError(err, chat.ErrChannelNotFound))
	}
	if ch.GuildID == "" {
		return "", fmt.Errorf("discord channel %s is not in a guild", channelID)
	}
	d.mu.Lock()
	d.guilds[channelID] = ch.GuildID
	d.mu.Unlock()
	return ch.GuildID, nil
}

// discordError maps REST failures onto the chat sentinels. A bare 404 maps
// to notFound.
func discordError(err error, notFound error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %v", chat.ErrStaleHandle, err)
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %v", chat.ErrChannelNotFound, err)
		}
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", notFound, err)
	}
	return err
}
