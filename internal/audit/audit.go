// Package audit emits one record per committed ledger mutation to a
// kind-specific log channel.
package audit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/stashbot/internal/bus"
)

type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindReport   Kind = "report"
	KindReset    Kind = "reset"
)

type Record struct {
	ID        string
	Kind      Kind
	Actor     string
	Item      string // for resets, the actor whose log was cleared
	Quantity  int    // for resets, the number of entries removed
	Category  string
	Balance   int // stash quantity after the mutation
	Timestamp time.Time
}

// NewRecord stamps a record with a fresh id.
func NewRecord(kind Kind, actor, item string, qty int, category string, at time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Actor:     actor,
		Item:      item,
		Quantity:  qty,
		Category:  category,
		Timestamp: at,
	}
}

// Journal stores records durably next to the chat log.
type Journal interface {
	Append(ctx context.Context, rec Record) error
}

// Publisher queues outbound chat messages without blocking.
type Publisher interface {
	TryPublish(msg bus.OutboundMessage) bool
}

type Formatter func(Record) string

// DiscordFormat renders the timestamp as a relative Discord timestamp.
func DiscordFormat(r Record) string {
	return line(r, fmt.Sprintf("<t:%d:R>", r.Timestamp.Unix()))
}

// PlainFormat renders the timestamp as text, for platforms without markup for it.
func PlainFormat(r Record) string {
	return line(r, r.Timestamp.UTC().Format("02.01.2006 15:04 MST"))
}

func line(r Record, when string) string {
	parts := []string{"**" + strings.ToUpper(string(r.Kind)) + "**", r.Actor}
	switch r.Kind {
	case KindReset:
		parts = append(parts, fmt.Sprintf("%s (%d entries)", r.Item, r.Quantity))
	default:
		parts = append(parts, fmt.Sprintf("%s x%d", r.Item, r.Quantity))
	}
	if r.Category != "" {
		parts = append(parts, r.Category)
	}
	parts = append(parts, when)
	return strings.Join(parts, " | ")
}

type Emitter struct {
	publisher  Publisher
	routes     map[Kind]bus.Address
	journal    Journal
	formatters map[string]Formatter
}

func NewEmitter(p Publisher, routes map[Kind]bus.Address, journal Journal) *Emitter {
	return &Emitter{
		publisher: p,
		routes:    routes,
		journal:   journal,
		formatters: map[string]Formatter{
			"discord": DiscordFormat,
		},
	}
}

// SetFormatter overrides the record format used for one platform.
func (e *Emitter) SetFormatter(platform string, f Formatter) {
	e.formatters[platform] = f
}

func (e *Emitter) formatter(platform string) Formatter {
	if f, ok := e.formatters[platform]; ok {
		return f
	}
	return PlainFormat
}

// Emit delivers rec on a best-effort basis: it never blocks on the chat
// platform and never retries. The returned error is informational.
func (e *Emitter) Emit(ctx context.Context, rec Record) error {
	var errs []string

	if e.journal != nil {
		if err := e.journal.Append(ctx, rec); err != nil {
			log.Printf("[audit] journal append %s failed: %v", rec.ID, err)
			errs = append(errs, err.Error())
		}
	}

	addr, ok := e.routes[rec.Kind]
	if !ok || addr.IsZero() {
		log.Printf("[audit] %s by %s: no log channel configured", rec.Kind, rec.Actor)
	} else {
		msg := bus.OutboundMessage{Channel: addr.Channel, ChatID: addr.ChatID, Content: e.formatter(addr.Channel)(rec)}
		if e.publisher == nil || !e.publisher.TryPublish(msg) {
			log.Printf("[audit] outbound queue full, dropped %s record %s", rec.Kind, rec.ID)
			errs = append(errs, "outbound queue full")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("emit audit record %s: %s", rec.ID, strings.Join(errs, "; "))
	}
	return nil
}
