package stash

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stellarlinkco/stashbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	store.Store
	fail bool
}

func (f *failingStore) Save(ctx context.Context, docID string, v any) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, docID, v)
}

func newFileStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), store.JSONCodec{})
	require.NoError(t, err)
	return st
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input string
		want  Category
	}{
		{"Weapons", Weapons},
		{"weapon", Weapons},
		{"W", Weapons},
		{"d", Drugs},
		{"MATERIALS", Materials},
		{"Others", Other},
		{"o", Other},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, err := ParseCategory("Food")
	assert.Error(t, err)
	_, err = ParseCategory("X")
	assert.Error(t, err)
}

func TestLedger_DepositCreatesAndAccumulates(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFileStore(t))

	qty, err := l.Deposit(ctx, Weapons, "AK47", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, qty)

	qty, err = l.Deposit(ctx, Weapons, "ak47", 3)
	require.NoError(t, err)
	assert.Equal(t, 8, qty)
	assert.Equal(t, 8, l.Quantity(Weapons, "Ak47"))
}

func TestLedger_WithdrawInsufficientLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFileStore(t))

	_, err := l.Deposit(ctx, Weapons, "ak47", 10)
	require.NoError(t, err)

	_, err = l.Withdraw(ctx, Weapons, "ak47", 12)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 10, stockErr.Have)
	assert.Equal(t, 12, stockErr.Want)

	assert.Equal(t, 10, l.Quantity(Weapons, "ak47"))
}

func TestLedger_WithdrawAbsentItem(t *testing.T) {
	l := NewLedger(newFileStore(t))
	_, err := l.Withdraw(context.Background(), Drugs, "weed", 1)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotContains(t, l.Snapshot()[Drugs], "weed")
}

func TestLedger_ZeroPruning(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFileStore(t))

	_, err := l.Deposit(ctx, Materials, "steel", 7)
	require.NoError(t, err)
	left, err := l.Withdraw(ctx, Materials, "steel", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	snap := l.Snapshot()
	_, present := snap[Materials]["steel"]
	assert.False(t, present, "item key should be removed at zero")
	_, catPresent := snap[Materials]
	assert.True(t, catPresent, "category stays even when empty")
}

func TestLedger_NeverNegative(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(newFileStore(t))

	ops := []struct {
		deposit bool
		qty     int
	}{
		{true, 3}, {false, 2}, {false, 2}, {true, 1}, {false, 2}, {false, 1}, {true, 4}, {false, 5},
	}
	for _, op := range ops {
		if op.deposit {
			_, err := l.Deposit(ctx, Other, "rope", op.qty)
			require.NoError(t, err)
		} else {
			before := l.Quantity(Other, "rope")
			_, err := l.Withdraw(ctx, Other, "rope", op.qty)
			if err != nil {
				assert.Equal(t, before, l.Quantity(Other, "rope"))
			}
		}
		assert.GreaterOrEqual(t, l.Quantity(Other, "rope"), 0)
	}
}

func TestLedger_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	st := newFileStore(t)
	l := NewLedger(st)

	_, err := l.Deposit(ctx, Weapons, "ak47", 10)
	require.NoError(t, err)
	_, err = l.Deposit(ctx, Drugs, "weed", 4)
	require.NoError(t, err)

	reloaded, err := Open(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 10, reloaded.Quantity(Weapons, "ak47"))
	assert.Equal(t, 4, reloaded.Quantity(Drugs, "weed"))
}

func TestLedger_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newFileStore(t)}
	l := NewLedger(fs)

	_, err := l.Deposit(ctx, Weapons, "ak47", 2)
	require.NoError(t, err)

	fs.fail = true
	_, err = l.Deposit(ctx, Weapons, "ak47", 5)
	require.Error(t, err)
	assert.Equal(t, 2, l.Quantity(Weapons, "ak47"))

	_, err = l.Withdraw(ctx, Weapons, "ak47", 2)
	require.Error(t, err)
	assert.Equal(t, 2, l.Quantity(Weapons, "ak47"))

	_, err = l.Deposit(ctx, Drugs, "pills", 1)
	require.Error(t, err)
	assert.NotContains(t, l.Snapshot()[Drugs], "pills")
}

func TestOpen_LegacyDocument(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "data"), store.JSONCodec{})
	require.NoError(t, err)

	legacy := map[string]map[string]int{
		"Weapons": {"ak47": 3},
		"Food":    {"apple": 2},
		"Other":   {"rope": 1, "empty": 0},
	}
	require.NoError(t, st.Save(ctx, store.DocStash, legacy))

	l, err := Open(ctx, st)
	require.NoError(t, err)
	snap := l.Snapshot()
	assert.Equal(t, 3, snap[Weapons]["ak47"])
	assert.Equal(t, 2, snap[Other]["apple"])
	assert.Equal(t, 1, snap[Other]["rope"])
	assert.NotContains(t, snap[Other], "empty")
}

func TestLedger_DepositOverflowRejected(t *testing.T) {
	ctx := context.Background()
	st := newFileStore(t)
	l := NewLedger(st)

	bal, err := l.Deposit(ctx, Weapons, "ak47", math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, bal)

	bal, err = l.Deposit(ctx, Weapons, "ak47", 1)
	require.ErrorIs(t, err, ErrQuantityOverflow)
	assert.Equal(t, math.MaxInt, bal)
	assert.Equal(t, math.MaxInt, l.Quantity(Weapons, "ak47"))

	reloaded, err := Open(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, reloaded.Quantity(Weapons, "ak47"))
}

func TestOpen_LegacyDocumentOverflowCapped(t *testing.T) {
	ctx := context.Background()
	st := newFileStore(t)

	legacy := map[string]map[string]int{
		"Other":  {"rope": math.MaxInt},
		"Others": {"rope": 5},
	}
	require.NoError(t, st.Save(ctx, store.DocStash, legacy))

	l, err := Open(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, l.Quantity(Other, "rope"))
}

func TestOpen_MissingDocumentStartsEmpty(t *testing.T) {
	l, err := Open(context.Background(), newFileStore(t))
	require.NoError(t, err)
	for _, c := range Categories {
		assert.Empty(t, l.Snapshot()[c])
	}
}

func TestLedger_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil)

	_, err := l.Deposit(ctx, Category("Food"), "apple", 1)
	assert.Error(t, err)
	_, err = l.Deposit(ctx, Other, "  ", 1)
	assert.Error(t, err)
	_, err = l.Deposit(ctx, Other, "rope", 0)
	assert.Error(t, err)
}

func TestInventory_ItemsSorted(t *testing.T) {
	inv := Inventory{Weapons: {"uzi": 1, "ak47": 2, "glock": 3}}
	assert.Equal(t, []string{"ak47", "glock", "uzi"}, inv.Items(Weapons))
}
