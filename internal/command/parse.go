package command

import (
	"strconv"
	"strings"

	"github.com/stellarlinkco/stashbot/internal/stash"
)

type keywordParser func(p *parser) (Command, error)

var keywords = map[string]keywordParser{
	"deposit":  func(p *parser) (Command, error) { return p.stashArgs(Deposit) },
	"withdraw": func(p *parser) (Command, error) { return p.stashArgs(Withdraw) },
	"stats":    (*parser).stats,
	"res":      (*parser).reset,
	"reset":    (*parser).reset,
	"top3":     (*parser).top,
	"help":     func(*parser) (Command, error) { return Command{Kind: Help}, nil },
	"members":  func(*parser) (Command, error) { return Command{Kind: Members}, nil },
}

type parser struct {
	line string
	rest string
}

func (p *parser) fail(reason string) error {
	return &ParseError{Line: p.line, Reason: reason}
}

// Parse parses line according to the forms surface allows. It returns
// ErrNotCommand for text that is not addressed to the bot and a *ParseError
// for a malformed command.
func Parse(line string, surface Surface) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrNotCommand
	}
	p := &parser{line: line}

	if strings.HasPrefix(line, "!") {
		word, rest := splitWord(line[1:])
		fn, ok := keywords[strings.ToLower(word)]
		if !ok {
			return Command{}, ErrNotCommand
		}
		p.rest = rest
		return fn(p)
	}

	if surface&StashLines != 0 {
		word, rest := splitWord(line)
		switch strings.ToLower(word) {
		case "deposit":
			p.rest = rest
			return p.stashArgs(Deposit)
		case "withdraw":
			p.rest = rest
			return p.stashArgs(Withdraw)
		}
	}

	if surface&WorkLines != 0 && looksLikeReport(line) {
		p.rest = line
		return p.report()
	}

	if surface&StashLines != 0 {
		p.rest = line
		return p.compact()
	}

	return Command{}, ErrNotCommand
}

// compact parses "[-]item qty [W|D|M|O]". A leading "-" selects withdraw,
// a leading "+" is an explicit deposit.
func (p *parser) compact() (Command, error) {
	kind := Deposit
	switch {
	case strings.HasPrefix(p.rest, "-"):
		kind = Withdraw
		p.rest = strings.TrimSpace(p.rest[1:])
	case strings.HasPrefix(p.rest, "+"):
		p.rest = strings.TrimSpace(p.rest[1:])
	}
	return p.stashArgs(kind)
}

// stashArgs parses "<item-phrase> <qty> [category]" where category is a
// trailing "(name)" group or a single token after the quantity.
func (p *parser) stashArgs(kind Kind) (Command, error) {
	rest, catText, hasCat := cutParenthesized(p.rest)
	toks := strings.Fields(rest)
	if len(toks) == 0 {
		return Command{}, p.fail("missing item and quantity")
	}

	n := len(toks)
	if !hasCat && n >= 2 && !isInteger(toks[n-1]) && isInteger(toks[n-2]) {
		catText, hasCat = toks[n-1], true
		toks = toks[:n-1]
	}

	idx := lastInteger(toks)
	if idx < 0 {
		return Command{}, p.fail("missing quantity")
	}
	if idx != len(toks)-1 {
		return Command{}, p.fail("unexpected " + strconv.Quote(strings.Join(toks[idx+1:], " ")) + " after quantity")
	}
	qty, err := positive(toks[idx])
	if err != nil {
		return Command{}, p.fail(err.Error())
	}
	item := stash.NormalizeItem(strings.Join(toks[:idx], " "))
	if item == "" {
		return Command{}, p.fail("missing item name")
	}

	category := stash.DefaultCategory
	if hasCat {
		category, err = stash.ParseCategory(catText)
		if err != nil {
			return Command{}, p.fail(err.Error())
		}
	}
	return Command{Kind: kind, Item: item, Quantity: qty, Category: category}, nil
}

// report parses "[+]qty item".
func (p *parser) report() (Command, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(p.rest, "+"))
	word, item := splitWord(rest)
	qty, err := positive(word)
	if err != nil {
		return Command{}, p.fail(err.Error())
	}
	item = strings.ToLower(strings.Join(strings.Fields(item), " "))
	if item == "" {
		return Command{}, p.fail("missing item name")
	}
	return Command{Kind: Report, Item: item, Quantity: qty}, nil
}

// stats parses "!stats <actor> [days|all]".
func (p *parser) stats() (Command, error) {
	toks := strings.Fields(p.rest)
	if len(toks) == 0 {
		return Command{}, p.fail("usage: !stats <member> [days|all]")
	}
	if len(toks) > 2 {
		return Command{}, p.fail("too many arguments")
	}
	cmd := Command{Kind: Stats, Target: actorToken(toks[0]), WindowDays: DefaultWindow}
	if cmd.Target == "" {
		return Command{}, p.fail("missing member")
	}
	if len(toks) == 2 {
		days, err := window(toks[1])
		if err != nil {
			return Command{}, p.fail(err.Error())
		}
		cmd.WindowDays = days
	}
	return cmd, nil
}

// reset parses "!res <actor>".
func (p *parser) reset() (Command, error) {
	toks := strings.Fields(p.rest)
	if len(toks) != 1 {
		return Command{}, p.fail("usage: !res <member>")
	}
	target := actorToken(toks[0])
	if target == "" {
		return Command{}, p.fail("missing member")
	}
	return Command{Kind: Reset, Target: target}, nil
}

// top parses "!top3 [days|all]".
func (p *parser) top() (Command, error) {
	toks := strings.Fields(p.rest)
	cmd := Command{Kind: Top, N: TopN, WindowDays: DefaultWindow}
	switch len(toks) {
	case 0:
	case 1:
		days, err := window(toks[0])
		if err != nil {
			return Command{}, p.fail(err.Error())
		}
		cmd.WindowDays = days
	default:
		return Command{}, p.fail("usage: !top3 [days|all]")
	}
	return cmd, nil
}

func looksLikeReport(line string) bool {
	word, _ := splitWord(strings.TrimSpace(strings.TrimPrefix(line, "+")))
	return isInteger(word)
}

// cutParenthesized strips a trailing "(...)" group and returns its contents.
func cutParenthesized(s string) (rest, inner string, ok bool) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, ")") {
		return s, "", false
	}
	open := strings.LastIndex(s, "(")
	if open < 0 {
		return s, "", false
	}
	return strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1 : len(s)-1]), true
}

func splitWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func isInteger(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func lastInteger(toks []string) int {
	for i := len(toks) - 1; i >= 0; i-- {
		if isInteger(toks[i]) {
			return i
		}
	}
	return -1
}

type reasonError string

func (e reasonError) Error() string { return string(e) }

func positive(tok string) (int, error) {
	if !isInteger(tok) {
		return 0, reasonError("missing quantity")
	}
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, reasonError("quantity too large")
	}
	if n <= 0 {
		return 0, reasonError("quantity must be greater than zero")
	}
	return int(n), nil
}

// window parses "7", "7d" or "all".
func window(tok string) (int, error) {
	tok = strings.ToLower(tok)
	if tok == "all" {
		return 0, nil
	}
	tok = strings.TrimSuffix(tok, "d")
	if !isInteger(tok) {
		return 0, reasonError("window must be a number of days or \"all\"")
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return 0, reasonError("window must be a positive number of days")
	}
	return n, nil
}

func actorToken(tok string) string {
	return strings.TrimPrefix(strings.TrimSpace(tok), "@")
}
