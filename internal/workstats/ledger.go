// Package workstats keeps the append-only contribution log per actor and
// derives windowed totals and rankings from it.
package workstats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/stashbot/internal/store"
)

var ErrNotFound = errors.New("no work stats")

const day = 24 * time.Hour

// MaxQuantity bounds one entry so per-actor sums stay far from int overflow.
const MaxQuantity = math.MaxInt32

type Entry struct {
	Item      string    `json:"item" yaml:"item"`
	Quantity  int       `json:"quantity" yaml:"quantity"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ItemTotal is the summed quantity of one item.
type ItemTotal struct {
	Item     string
	Quantity int
}

// Summary is the result of a query for one actor.
type Summary struct {
	Actor      string
	WindowDays int // 0 means all time
	Entries    []Entry
	Items      []ItemTotal // sorted by quantity desc, then item
	Total      int
	LastUpdate time.Time // zero when no entry falls in the window
}

// Ranking is one row of a top-N result.
type Ranking struct {
	Actor     string
	Total     int
	LastEntry time.Time
}

// Member is one actor known to the ledger.
type Member struct {
	Actor      string
	EntryCount int
	Total      int
	LastEntry  time.Time
}

type Ledger struct {
	mu      sync.Mutex
	store   store.Store
	entries map[string][]Entry
	now     func() time.Time
}

func NewLedger(st store.Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: st, entries: make(map[string][]Entry), now: now}
}

// Open loads the work-stats document, or starts empty when none exists.
func Open(ctx context.Context, st store.Store, now func() time.Time) (*Ledger, error) {
	l := NewLedger(st, now)
	var doc map[string][]Entry
	err := st.Load(ctx, store.DocWorkStats, &doc)
	if errors.Is(err, store.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load work stats: %w", err)
	}
	for actor, entries := range doc {
		key := NormalizeActor(actor)
		if key == "" {
			continue
		}
		for _, e := range entries {
			if e.Quantity > 0 && e.Quantity <= MaxQuantity && e.Item != "" {
				l.entries[key] = append(l.entries[key], e)
			}
		}
	}
	return l, nil
}

// NormalizeActor maps "@Bob", "bob " and "BOB" to the same ledger key.
func NormalizeActor(actor string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(actor), "@"))
}

// Record appends a contribution stamped with the current time.
func (l *Ledger) Record(ctx context.Context, actor, item string, qty int) (Entry, error) {
	key := NormalizeActor(actor)
	item = strings.ToLower(strings.Join(strings.Fields(item), " "))
	if key == "" {
		return Entry{}, fmt.Errorf("actor is required")
	}
	if item == "" {
		return Entry{}, fmt.Errorf("item is required")
	}
	if qty <= 0 {
		return Entry{}, fmt.Errorf("quantity must be positive, got %d", qty)
	}
	if qty > MaxQuantity {
		return Entry{}, fmt.Errorf("quantity %d exceeds %d", qty, MaxQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{Item: item, Quantity: qty, Timestamp: l.now().UTC()}
	prev := l.entries[key]
	l.entries[key] = append(prev[:len(prev):len(prev)], e)
	if err := l.flush(ctx); err != nil {
		if len(prev) == 0 {
			delete(l.entries, key)
		} else {
			l.entries[key] = prev
		}
		return Entry{}, err
	}
	return e, nil
}

// Query returns the actor's entries, restricted to the last windowDays days
// when windowDays > 0. It fails only when the actor has no entries at all.
func (l *Ledger) Query(actor string, windowDays int) (Summary, error) {
	key := NormalizeActor(actor)

	l.mu.Lock()
	defer l.mu.Unlock()

	all, ok := l.entries[key]
	if !ok || len(all) == 0 {
		return Summary{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	s := Summary{Actor: key, WindowDays: windowDays}
	since := l.since(windowDays)
	totals := make(map[string]int)
	for _, e := range all {
		if e.Timestamp.Before(since) {
			continue
		}
		s.Entries = append(s.Entries, e)
		s.Total += e.Quantity
		totals[e.Item] += e.Quantity
		if e.Timestamp.After(s.LastUpdate) {
			s.LastUpdate = e.Timestamp
		}
	}
	for item, qty := range totals {
		s.Items = append(s.Items, ItemTotal{Item: item, Quantity: qty})
	}
	sort.Slice(s.Items, func(i, j int) bool {
		if s.Items[i].Quantity != s.Items[j].Quantity {
			return s.Items[i].Quantity > s.Items[j].Quantity
		}
		return s.Items[i].Item < s.Items[j].Item
	})
	return s, nil
}

// Reset clears the actor's entire log and returns how many entries it held.
func (l *Ledger) Reset(ctx context.Context, actor string) (int, error) {
	key := NormalizeActor(actor)

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.entries[key]
	if !ok || len(prev) == 0 {
		return 0, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(l.entries, key)
	if err := l.flush(ctx); err != nil {
		l.entries[key] = prev
		return 0, err
	}
	return len(prev), nil
}

// Top ranks actors by their summed quantity inside the window, descending,
// with ties broken by actor name. Actors with nothing in the window are left out.
func (l *Ledger) Top(n, windowDays int) []Ranking {
	l.mu.Lock()
	defer l.mu.Unlock()

	since := l.since(windowDays)
	var out []Ranking
	for actor, entries := range l.entries {
		r := Ranking{Actor: actor}
		for _, e := range entries {
			if e.Timestamp.Before(since) {
				continue
			}
			r.Total += e.Quantity
			if e.Timestamp.After(r.LastEntry) {
				r.LastEntry = e.Timestamp
			}
		}
		if r.Total > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Actor < out[j].Actor
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Members lists every actor with entries, sorted by name.
func (l *Ledger) Members() []Member {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Member, 0, len(l.entries))
	for actor, entries := range l.entries {
		m := Member{Actor: actor, EntryCount: len(entries)}
		for _, e := range entries {
			m.Total += e.Quantity
			if e.Timestamp.After(m.LastEntry) {
				m.LastEntry = e.Timestamp
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}

// since returns the start of the window; the zero time when windowDays <= 0.
func (l *Ledger) since(windowDays int) time.Time {
	if windowDays <= 0 {
		return time.Time{}
	}
	return l.now().Add(-time.Duration(windowDays) * day)
}

func (l *Ledger) flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	doc := make(map[string][]Entry, len(l.entries))
	for actor, entries := range l.entries {
		doc[actor] = append([]Entry(nil), entries...)
	}
	if err := l.store.Save(ctx, store.DocWorkStats, doc); err != nil {
		return fmt.Errorf("save work stats: %w", err)
	}
	return nil
}
