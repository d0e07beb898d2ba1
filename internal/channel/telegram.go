package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
	"github.com/stellarlinkco/stashbot/internal/config"
)

const (
	telegramChannelName = "telegram"
	telegramMaxLen      = 4000 // Telegram has a 4096 char limit per message
	telegramHistory     = 100
)

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return w.bot.GetChatMember(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramChannel talks to the Bot API. Bots cannot read chat history, so
// the channel remembers the messages it sent itself and serves scans from
// that record.
type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory
	roles      map[string][]string

	mu        sync.Mutex
	sent      map[int64][]chat.Message // newest last
	usernames map[string]string        // sender ID -> username
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	roles := make(map[string][]string, len(cfg.Roles))
	for user, names := range cfg.Roles {
		roles[strings.ToLower(strings.TrimPrefix(user, "@"))] = names
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
		roles:       roles,
		sent:        make(map[int64][]chat.Message),
		usernames:   make(map[string]string),
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	sender := msg.From.UserName
	if sender == "" {
		sender = msg.From.FirstName
	}
	if sender == "" {
		sender = senderID
	}
	t.mu.Lock()
	t.usernames[senderID] = msg.From.UserName
	t.mu.Unlock()

	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	t.bus.Inbound <- bus.InboundMessage{
		Channel:   telegramChannelName,
		ChatID:    chatID,
		MessageID: strconv.Itoa(msg.MessageID),
		SenderID:  senderID,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
		},
	}
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)

	for i, chunk := range splitContent(toTelegramHTML(msg.Content), telegramMaxLen) {
		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if i == 0 {
			tgMsg.ReplyToMessageID = replyTo
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			// Retry without HTML parse mode
			tgMsg.ParseMode = ""
			tgMsg.Text = msg.Content
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
			return nil
		}
	}
	return nil
}

func (t *TelegramChannel) SendMessage(ctx context.Context, addr bus.Address, content string) (chat.MessageRef, error) {
	return t.SendReply(ctx, addr, "", content)
}

// SendReply sends content as a reply to replyTo, or as a plain message when
// replyTo is empty.
func (t *TelegramChannel) SendReply(_ context.Context, addr bus.Address, replyTo, content string) (chat.MessageRef, error) {
	if t.bot == nil {
		return chat.MessageRef{}, fmt.Errorf("telegram bot not initialized")
	}
	chatID, err := strconv.ParseInt(addr.ChatID, 10, 64)
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("invalid chat id %q: %w", addr.ChatID, err)
	}

	tgMsg := tgbotapi.NewMessage(chatID, toTelegramHTML(content))
	tgMsg.ParseMode = tgbotapi.ModeHTML
	tgMsg.ReplyToMessageID, _ = strconv.Atoi(replyTo)
	sent, err := t.bot.Send(tgMsg)
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("send telegram message: %w", telegramError(err, chat.ErrChannelNotFound))
	}

	ref := chat.MessageRef{Address: addr, MessageID: strconv.Itoa(sent.MessageID)}
	t.remember(chatID, chat.Message{
		Ref:      ref,
		AuthorID: strconv.FormatInt(t.bot.GetSelf().ID, 10),
		FromSelf: true,
		Content:  content,
	})
	return ref, nil
}

func (t *TelegramChannel) EditMessage(_ context.Context, ref chat.MessageRef, content string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, msgID, err := parseTelegramRef(ref)
	if err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(chatID, msgID, toTelegramHTML(content))
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit telegram message: %w", telegramError(err, chat.ErrStaleHandle))
	}

	t.mu.Lock()
	for i, m := range t.sent[chatID] {
		if m.Ref.MessageID == ref.MessageID {
			t.sent[chatID][i].Content = content
		}
	}
	t.mu.Unlock()
	return nil
}

func (t *TelegramChannel) DeleteMessage(_ context.Context, ref chat.MessageRef) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, msgID, err := parseTelegramRef(ref)
	if err != nil {
		return err
	}
	// deleteMessage answers with a bool, which Send cannot decode.
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("delete telegram message: %w", telegramError(err, chat.ErrStaleHandle))
	}
	t.forget(chatID, ref.MessageID)
	return nil
}

// RecentMessages returns the messages this bot sent to addr, newest first.
func (t *TelegramChannel) RecentMessages(_ context.Context, addr bus.Address, limit int) ([]chat.Message, error) {
	chatID, err := strconv.ParseInt(addr.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", addr.ChatID, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	history := t.sent[chatID]
	out := make([]chat.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, history[i])
	}
	return out, nil
}

// RolesOf combines the configured role grants for the sender with their
// chat member status ("creator", "administrator", "member").
func (t *TelegramChannel) RolesOf(_ context.Context, addr bus.Address, senderID string) ([]string, error) {
	var roles []string
	roles = append(roles, t.roles[senderID]...)
	t.mu.Lock()
	username := t.usernames[senderID]
	t.mu.Unlock()
	if username != "" {
		roles = append(roles, t.roles[strings.ToLower(username)]...)
	}

	if t.bot == nil {
		return roles, nil
	}
	chatID, err := strconv.ParseInt(addr.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", addr.ChatID, err)
	}
	userID, err := strconv.ParseInt(senderID, 10, 64)
	if err != nil {
		return roles, nil
	}
	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("get chat member: %w", err)
	}
	if member.Status != "" {
		roles = append(roles, member.Status)
	}
	return roles, nil
}

func (t *TelegramChannel) remember(chatID int64, m chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := append(t.sent[chatID], m)
	if len(history) > telegramHistory {
		history = history[len(history)-telegramHistory:]
	}
	t.sent[chatID] = history
}

func (t *TelegramChannel) forget(chatID int64, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := t.sent[chatID]
	for i, m := range history {
		if m.Ref.MessageID == messageID {
			t.sent[chatID] = append(history[:i:i], history[i+1:]...)
			return
		}
	}
}

func parseTelegramRef(ref chat.MessageRef) (int64, int, error) {
	chatID, err := strconv.ParseInt(ref.Address.ChatID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q: %w", ref.Address.ChatID, err)
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message id %q: %w", ref.MessageID, err)
	}
	return chatID, msgID, nil
}

// telegramError maps Bot API "not found" answers onto notFound.
func telegramError(err error, notFound error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "can't be deleted") {
		return fmt.Errorf("%w: %v", notFound, err)
	}
	return err
}

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	// Escape HTML entities first
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	// Code blocks: ```...``` -> <pre>...</pre>
	for {
		start := strings.Index(s, "```")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+3:], "```")
		if end == -1 {
			break
		}
		end += start + 3
		code := s[start+3 : end]
		// Strip optional language tag on first line
		if nl := strings.Index(code, "\n"); nl >= 0 {
			firstLine := strings.TrimSpace(code[:nl])
			if len(firstLine) > 0 && !strings.Contains(firstLine, " ") {
				code = code[nl+1:]
			}
		}
		s = s[:start] + "<pre>" + code + "</pre>" + s[end+3:]
	}

	// Inline code: `...` -> <code>...</code>
	for {
		start := strings.Index(s, "`")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+1:], "`")
		if end == -1 {
			break
		}
		end += start + 1
		s = s[:start] + "<code>" + s[start+1:end] + "</code>" + s[end+1:]
	}

	// Bold: **...** -> <b>...</b>
	for {
		start := strings.Index(s, "**")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+2:], "**")
		if end == -1 {
			break
		}
		end += start + 2
		s = s[:start] + "<b>" + s[start+2:end] + "</b>" + s[end+2:]
	}

	// Italic: *...* -> <i>...</i> (after bold to avoid conflicts)
	for {
		start := strings.Index(s, "*")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+1:], "*")
		if end == -1 {
			break
		}
		end += start + 1
		s = s[:start] + "<i>" + s[start+1:end] + "</i>" + s[end+1:]
	}

	return s
}
