// Package board renders ledger state into a fixed-width text board and keeps
// exactly one live board message per channel.
package board

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/stellarlinkco/stashbot/internal/stash"
	"github.com/stellarlinkco/stashbot/internal/workstats"
)

// Sentinel headers. A board message is recognized solely by its first line.
const (
	StashSentinel = "📦 **GANG STASH**"
	WorkSentinel  = "🛠️ **WORK STATS**"
)

const (
	leftWidth  = 20
	rightWidth = 55
	innerWidth = leftWidth + 1 + rightWidth

	timeLayout  = "02.01.2006 15:04 MST"
	placeholder = "empty"
)

type row struct {
	left, right string
}

type table struct {
	sentinel  string
	title     string
	subtitle  string
	leftHead  string
	rightHead string
	groups    [][]row
	footer    string
}

// RenderStash formats inv with categories in fixed order and items sorted by
// name. Identical inputs produce identical output.
func RenderStash(inv stash.Inventory, at time.Time) string {
	t := table{
		sentinel:  StashSentinel,
		title:     "GANG STASH",
		subtitle:  "Inventory Dashboard",
		leftHead:  "CATEGORY",
		rightHead: "ITEMS",
		footer:    "Last Updated: " + at.Format(timeLayout),
	}
	for _, c := range stash.Categories {
		label := strings.ToUpper(string(c))
		names := inv.Items(c)
		if len(names) == 0 {
			t.groups = append(t.groups, []row{{left: label, right: placeholder}})
			continue
		}
		group := make([]row, 0, len(names))
		for i, name := range names {
			r := row{right: dotted(name, "x"+humanize.Comma(int64(inv[c][name])))}
			if i == 0 {
				r.left = label
			}
			group = append(group, r)
		}
		t.groups = append(t.groups, group)
	}
	return t.render()
}

// RenderWork formats one row per ranked actor. windowDays <= 0 means all time.
func RenderWork(rows []workstats.Ranking, windowDays int, at time.Time) string {
	t := table{
		sentinel:  WorkSentinel,
		title:     "WORK STATS",
		subtitle:  WindowLabel(windowDays),
		leftHead:  "MEMBER",
		rightHead: "CONTRIBUTED · LAST REPORT",
		footer:    "Last Updated: " + at.Format(timeLayout),
	}
	if len(rows) == 0 {
		t.groups = append(t.groups, []row{{left: "-", right: placeholder}})
	}
	for _, r := range rows {
		last := r.LastEntry.In(at.Location()).Format("02.01.2006 15:04")
		t.groups = append(t.groups, []row{{left: r.Actor, right: dotted("x"+humanize.Comma(int64(r.Total)), last)}})
	}
	return t.render()
}

// WindowLabel describes a query window for headings and replies.
func WindowLabel(windowDays int) string {
	switch {
	case windowDays <= 0:
		return "All time"
	case windowDays == 1:
		return "Last 24 hours"
	default:
		return "Last " + humanize.Comma(int64(windowDays)) + " days"
	}
}

func (t table) render() string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	dash := func(n int) string { return strings.Repeat("═", n) }

	line(t.sentinel)
	line("```")
	line("╔" + dash(innerWidth) + "╗")
	line("║" + cell(t.title, innerWidth) + "║")
	line("║" + cell(t.subtitle, innerWidth) + "║")
	line("╠" + dash(leftWidth) + "╦" + dash(rightWidth) + "╣")
	line("║" + cell(t.leftHead, leftWidth) + "║" + cell(t.rightHead, rightWidth) + "║")
	for _, group := range t.groups {
		line("╠" + dash(leftWidth) + "╬" + dash(rightWidth) + "╣")
		for _, r := range group {
			line("║" + cell(r.left, leftWidth) + "║" + cell(r.right, rightWidth) + "║")
		}
	}
	line("╠" + dash(leftWidth) + "╩" + dash(rightWidth) + "╣")
	line("║" + cell(t.footer, innerWidth) + "║")
	line("╚" + dash(innerWidth) + "╝")
	b.WriteString("```")
	return b.String()
}

// cell pads s to exactly w display columns with one leading space.
func cell(s string, w int) string {
	s = runewidth.Truncate(s, w-2, "…")
	return runewidth.FillRight(" "+s, w)
}

// dotted joins name and value with a dot leader filling the right column.
func dotted(name, value string) string {
	content := rightWidth - 2
	nameWidth := content - runewidth.StringWidth(value) - 1
	name = runewidth.Truncate(name, nameWidth, "…")
	dots := nameWidth - runewidth.StringWidth(name)
	return name + strings.Repeat(".", dots) + " " + value
}
