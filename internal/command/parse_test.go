package command

import (
	"errors"
	"testing"

	"github.com/stellarlinkco/stashbot/internal/stash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		surface Surface
		want    Command
	}{
		{"bare deposit with parenthesized category", "deposit ak47 5 (Weapons)", StashLines,
			Command{Kind: Deposit, Item: "ak47", Quantity: 5, Category: stash.Weapons}},
		{"bang deposit", "!deposit AK47 5 (weapons)", 0,
			Command{Kind: Deposit, Item: "ak47", Quantity: 5, Category: stash.Weapons}},
		{"bang withdraw default category", "!withdraw Rope 2", 0,
			Command{Kind: Withdraw, Item: "rope", Quantity: 2, Category: stash.Other}},
		{"multi word item keeps inner numbers", "!deposit ak 47 rifle 12 (Weapons)", 0,
			Command{Kind: Deposit, Item: "ak 47 rifle", Quantity: 12, Category: stash.Weapons}},
		{"others spelling", "!deposit tape 1 (Others)", 0,
			Command{Kind: Deposit, Item: "tape", Quantity: 1, Category: stash.Other}},
		{"bang keyword case insensitive", "!DEPOSIT weed 3 (Drugs)", 0,
			Command{Kind: Deposit, Item: "weed", Quantity: 3, Category: stash.Drugs}},
		{"trailing category name without parens", "!deposit steel 4 materials", 0,
			Command{Kind: Deposit, Item: "steel", Quantity: 4, Category: stash.Materials}},
		{"compact withdraw with code", "-ak47 5 W", StashLines,
			Command{Kind: Withdraw, Item: "ak47", Quantity: 5, Category: stash.Weapons}},
		{"compact withdraw spaced dash", "- ak47 5 w", StashLines,
			Command{Kind: Withdraw, Item: "ak47", Quantity: 5, Category: stash.Weapons}},
		{"compact deposit", "Steel Plate 20 M", StashLines,
			Command{Kind: Deposit, Item: "steel plate", Quantity: 20, Category: stash.Materials}},
		{"compact deposit no code", "rope 2", StashLines,
			Command{Kind: Deposit, Item: "rope", Quantity: 2, Category: stash.Other}},
		{"compact explicit plus", "+pills 3 D", StashLines,
			Command{Kind: Deposit, Item: "pills", Quantity: 3, Category: stash.Drugs}},
		{"work report", "5 diving", WorkLines,
			Command{Kind: Report, Item: "diving", Quantity: 5}},
		{"work report with plus", "+12 Copper Ore", WorkLines,
			Command{Kind: Report, Item: "copper ore", Quantity: 12}},
		{"work report beats compact when both enabled", "5 diving", WorkLines | StashLines,
			Command{Kind: Report, Item: "diving", Quantity: 5}},
		{"compact when both enabled", "-ak47 1 W", WorkLines | StashLines,
			Command{Kind: Withdraw, Item: "ak47", Quantity: 1, Category: stash.Weapons}},
		{"stats", "!stats @Bob", 0,
			Command{Kind: Stats, Target: "Bob", WindowDays: DefaultWindow}},
		{"stats with window", "!stats bob 30", 0,
			Command{Kind: Stats, Target: "bob", WindowDays: 30}},
		{"stats with day suffix", "!stats bob 14d", 0,
			Command{Kind: Stats, Target: "bob", WindowDays: 14}},
		{"stats all time", "!stats bob all", 0,
			Command{Kind: Stats, Target: "bob", WindowDays: 0}},
		{"res", "!res bob", 0, Command{Kind: Reset, Target: "bob"}},
		{"reset alias", "!reset @bob", 0, Command{Kind: Reset, Target: "bob"}},
		{"top3", "!top3", 0, Command{Kind: Top, N: 3, WindowDays: DefaultWindow}},
		{"top3 window", "!top3 7", 0, Command{Kind: Top, N: 3, WindowDays: 7}},
		{"help", "!help", 0, Command{Kind: Help}},
		{"members", "!members", 0, Command{Kind: Members}},
		{"largest quantity", "!deposit ak47 2147483647", 0,
			Command{Kind: Deposit, Item: "ak47", Quantity: 2147483647, Category: stash.Other}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line, tt.surface)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		surface Surface
		reason  string
	}{
		{"no quantity", "!deposit ak47 (Weapons)", 0, "missing quantity"},
		{"zero quantity", "!withdraw ak47 0", 0, "greater than zero"},
		{"negative is not an integer token", "!withdraw ak47 -5", 0, "missing quantity"},
		{"empty item", "!deposit 5 (Weapons)", 0, "missing item"},
		{"nothing", "!deposit", 0, "missing item and quantity"},
		{"unknown parenthesized category", "!deposit apple 5 (Food)", 0, "unknown category"},
		{"unknown compact code", "-ak47 5 X", StashLines, "unknown category"},
		{"junk after quantity", "!deposit ak47 5 big gun", 0, "after quantity"},
		{"overflow", "!deposit ak47 99999999999999999999", 0, "too large"},
		{"above 32-bit", "!deposit ak47 9223372036854775807 (Weapons)", 0, "too large"},
		{"report above 32-bit", "2147483648 diving", WorkLines, "too large"},
		{"stats without member", "!stats", 0, "usage"},
		{"stats bad window", "!stats bob soon", 0, "window"},
		{"res without member", "!res", 0, "usage"},
		{"top3 bad window", "!top3 0", 0, "window"},
		{"report without item", "5", WorkLines, "missing item"},
		{"report zero", "+0 diving", WorkLines, "greater than zero"},
		{"chat in stash channel", "hello there", StashLines, "missing quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line, tt.surface)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrParse)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Contains(t, pe.Reason, tt.reason)
		})
	}
}

func TestParse_NotCommand(t *testing.T) {
	tests := []struct {
		line    string
		surface Surface
	}{
		{"", StashLines},
		{"   ", WorkLines},
		{"hello there", 0},
		{"5 diving", 0},
		{"-ak47 5 W", WorkLines},
		{"deposit ak47 5", 0},
		{"!play some music", StashLines},
	}
	for _, tt := range tests {
		_, err := Parse(tt.line, tt.surface)
		assert.ErrorIs(t, err, ErrNotCommand, "line %q", tt.line)
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "deposit", Deposit.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.True(t, Withdraw.Mutating())
	assert.True(t, Reset.Mutating())
	assert.False(t, Stats.Mutating())
	assert.False(t, Help.Mutating())
}
