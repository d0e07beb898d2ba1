// Package command turns one line of chat text into a typed Command.
package command

import (
	"errors"
	"fmt"

	"github.com/stellarlinkco/stashbot/internal/stash"
)

type Kind int

const (
	Invalid Kind = iota
	Deposit
	Withdraw
	Report
	Stats
	Reset
	Top
	Help
	Members
)

var kindNames = map[Kind]string{
	Invalid:  "invalid",
	Deposit:  "deposit",
	Withdraw: "withdraw",
	Report:   "report",
	Stats:    "stats",
	Reset:    "reset",
	Top:      "top",
	Help:     "help",
	Members:  "members",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Mutating reports whether the command changes a ledger.
func (k Kind) Mutating() bool {
	return k == Deposit || k == Withdraw || k == Report || k == Reset
}

// DefaultWindow asks the handler to apply its configured window.
const DefaultWindow = -1

// TopN is the size of the ranking returned by !top3.
const TopN = 3

type Command struct {
	Kind     Kind
	Item     string
	Quantity int
	Category stash.Category
	// Target is the actor named by !stats and !res.
	Target string
	// WindowDays is the query window: DefaultWindow, 0 for all time, or a day count.
	WindowDays int
	N          int
}

// Surface selects which bare (no "!") forms a channel accepts. "!" commands
// are accepted on every surface.
type Surface uint8

const (
	// StashLines accepts "deposit ..."/"withdraw ..." and "[-]item qty [W|D|M|O]".
	StashLines Surface = 1 << iota
	// WorkLines accepts "[+]qty item" work reports.
	WorkLines
)

var (
	// ErrNotCommand marks ordinary chat that is not addressed to the bot.
	ErrNotCommand = errors.New("not a command")
	ErrParse      = errors.New("invalid command")
)

type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid command %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// HelpText lists the command surface.
const HelpText = "**Stash**\n" +
	"`!deposit <item> <qty> [(Weapons|Drugs|Materials|Other)]`\n" +
	"`!withdraw <item> <qty> [(category)]`\n" +
	"In the stash channel: `item qty [W|D|M|O]`, `-item qty [W|D|M|O]` to withdraw\n" +
	"**Work**\n" +
	"In the work channel: `[+]qty item`\n" +
	"**Leaders**\n" +
	"`!stats <member> [days|all]` · `!res <member>` · `!top3 [days|all]` · `!members`"
