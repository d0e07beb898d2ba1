// Package stash tracks the shared categorized inventory.
package stash

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/stellarlinkco/stashbot/internal/store"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrQuantityOverflow  = errors.New("quantity overflow")
)

// StockError reports a withdraw that exceeds the current balance.
type StockError struct {
	Category Category
	Item     string
	Have     int
	Want     int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("withdraw %d %s from %s: only %d in stock", e.Want, e.Item, e.Category, e.Have)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Inventory maps category to item to quantity. A stored quantity is always > 0.
type Inventory map[Category]map[string]int

func (inv Inventory) clone() Inventory {
	out := make(Inventory, len(Categories))
	for _, c := range Categories {
		items := make(map[string]int, len(inv[c]))
		for name, qty := range inv[c] {
			items[name] = qty
		}
		out[c] = items
	}
	return out
}

// Items returns the item names of c sorted alphabetically.
func (inv Inventory) Items(c Category) []string {
	names := make([]string, 0, len(inv[c]))
	for name := range inv[c] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ledger owns the stash document. Every mutation is saved before it returns.
type Ledger struct {
	mu    sync.Mutex
	store store.Store
	items Inventory
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st, items: Inventory{}.clone()}
}

// Open loads the stash document, or starts empty when none exists.
func Open(ctx context.Context, st store.Store) (*Ledger, error) {
	l := NewLedger(st)
	var doc map[string]map[string]int
	err := st.Load(ctx, store.DocStash, &doc)
	if errors.Is(err, store.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stash: %w", err)
	}
	l.items = fromDocument(doc)
	return l, nil
}

// fromDocument folds keys outside the closed set into Other and drops
// non-positive quantities, so documents written by older bots still load.
func fromDocument(doc map[string]map[string]int) Inventory {
	inv := Inventory{}.clone()
	for key, items := range doc {
		c, err := ParseCategory(key)
		if err != nil {
			log.Printf("[stash] folding unknown category %q into %s", key, Other)
			c = Other
		}
		for name, qty := range items {
			name = NormalizeItem(name)
			if name == "" || qty <= 0 {
				continue
			}
			if prev := inv[c][name]; qty > math.MaxInt-prev {
				log.Printf("[stash] %s in %s overflows, capped at %d", name, c, math.MaxInt)
				inv[c][name] = math.MaxInt
				continue
			}
			inv[c][name] += qty
		}
	}
	return inv
}

func (l *Ledger) document() map[Category]map[string]int {
	return l.items.clone()
}

// NormalizeItem lowercases and collapses whitespace in an item name.
func NormalizeItem(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Deposit adds qty of item to c and returns the new quantity.
func (l *Ledger) Deposit(ctx context.Context, c Category, item string, qty int) (int, error) {
	if err := validate(c, item, qty); err != nil {
		return 0, err
	}
	item = NormalizeItem(item)

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.items[c][item]
	if qty > math.MaxInt-prev {
		return prev, fmt.Errorf("deposit %d %s into %s holding %d: %w", qty, item, c, prev, ErrQuantityOverflow)
	}
	l.items[c][item] = prev + qty
	if err := l.flush(ctx); err != nil {
		l.restore(c, item, prev)
		return 0, err
	}
	return prev + qty, nil
}

// Withdraw removes qty of item from c and returns the remaining quantity.
// An item whose quantity reaches zero is removed from its category.
func (l *Ledger) Withdraw(ctx context.Context, c Category, item string, qty int) (int, error) {
	if err := validate(c, item, qty); err != nil {
		return 0, err
	}
	item = NormalizeItem(item)

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.items[c][item]
	if !ok || prev < qty {
		return prev, &StockError{Category: c, Item: item, Have: prev, Want: qty}
	}
	left := prev - qty
	if left == 0 {
		delete(l.items[c], item)
	} else {
		l.items[c][item] = left
	}
	if err := l.flush(ctx); err != nil {
		l.restore(c, item, prev)
		return 0, err
	}
	return left, nil
}

func (l *Ledger) restore(c Category, item string, qty int) {
	if qty <= 0 {
		delete(l.items[c], item)
		return
	}
	l.items[c][item] = qty
}

func (l *Ledger) flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Save(ctx, store.DocStash, l.document()); err != nil {
		return fmt.Errorf("save stash: %w", err)
	}
	return nil
}

// Quantity returns the current quantity of item in c, 0 when absent.
func (l *Ledger) Quantity(c Category, item string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items[c][NormalizeItem(item)]
}

// Snapshot returns a deep copy of the inventory with every category present.
func (l *Ledger) Snapshot() Inventory {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.clone()
}

func validate(c Category, item string, qty int) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category %q", c)
	}
	if NormalizeItem(item) == "" {
		return fmt.Errorf("item name is required")
	}
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", qty)
	}
	return nil
}
