package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stellarlinkco/stashbot/internal/audit"
	"github.com/stellarlinkco/stashbot/internal/auth"
	"github.com/stellarlinkco/stashbot/internal/board"
	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
	"github.com/stellarlinkco/stashbot/internal/command"
	"github.com/stellarlinkco/stashbot/internal/stash"
	"github.com/stellarlinkco/stashbot/internal/workstats"
)

// Notice texts sent back to the actor.
const (
	ReplyInvalid      = "❌ Invalid command!"
	ReplyForbidden    = "❌ You don't have permission!"
	ReplyInsufficient = "❌ Not enough items!"
	ReplyOverflow     = "❌ Too many items!"
	ReplyNotFound     = "❌ No work stats for %s!"
	ReplySaveFailed   = "❌ Could not save, nothing was changed. Try again."
)

// Result is what one inbound line asks of the chat surface. The handler
// never talks back to the actor itself; the caller turns a Result into
// messages.
type Result struct {
	Command command.Command
	Handled bool // false for ordinary chat
	Reply   string
	// Ephemeral replies are timed notices removed after a few seconds.
	Ephemeral bool
	// DeleteCommand asks for the actor's original message to be removed.
	DeleteCommand bool
	Err           error
}

type HandlerOptions struct {
	Stash     *stash.Ledger
	Work      *workstats.Ledger
	Guard     *auth.Guard
	Roles     chat.RoleSource
	Messenger chat.Messenger
	Audit     *audit.Emitter

	StashBoard bus.Address
	WorkBoard  bus.Address
	ScanLimit  int
	// Surfaces enables bare command forms per channel.
	Surfaces   map[bus.Address]command.Surface
	WindowDays int
	TopN       int
	Location   *time.Location
	Now        func() time.Time
}

type Handler struct {
	stash      *stash.Ledger
	work       *workstats.Ledger
	guard      *auth.Guard
	roles      chat.RoleSource
	audit      *audit.Emitter
	stashSync  *board.Syncer
	workSync   *board.Syncer
	stashBoard bus.Address
	workBoard  bus.Address
	surfaces   map[bus.Address]command.Surface
	windowDays int
	topN       int
	loc        *time.Location
	now        func() time.Time
}

func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		stash:      opts.Stash,
		work:       opts.Work,
		guard:      opts.Guard,
		roles:      opts.Roles,
		audit:      opts.Audit,
		stashBoard: opts.StashBoard,
		workBoard:  opts.WorkBoard,
		surfaces:   opts.Surfaces,
		windowDays: opts.WindowDays,
		topN:       opts.TopN,
		loc:        opts.Location,
		now:        opts.Now,
	}
	if opts.Messenger != nil {
		h.stashSync = board.NewSyncer(opts.Messenger, board.StashSentinel, opts.ScanLimit)
		h.workSync = board.NewSyncer(opts.Messenger, board.WorkSentinel, opts.ScanLimit)
	}
	if h.guard == nil {
		h.guard = auth.NewGuard(auth.Policy{})
	}
	if h.surfaces == nil {
		h.surfaces = make(map[bus.Address]command.Surface)
	}
	if h.topN <= 0 {
		h.topN = command.TopN
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Handle runs one line through parse, guard, mutate, render, sync and audit.
// Failures stop the pipeline at the step that failed; side effects after a
// committed mutation are best-effort.
func (h *Handler) Handle(ctx context.Context, msg bus.InboundMessage) Result {
	addr := msg.Address()
	cmd, err := command.Parse(msg.Content, h.surfaces[addr])
	if errors.Is(err, command.ErrNotCommand) {
		return Result{}
	}
	if err != nil {
		return Result{Handled: true, Reply: ReplyInvalid, Ephemeral: true, DeleteCommand: true, Err: err}
	}

	actor := msg.Sender
	if actor == "" {
		actor = msg.SenderID
	}
	res := Result{Command: cmd, Handled: true}

	if h.guard.RequiresRoles(cmd.Kind) {
		var roles []string
		if h.roles != nil {
			roles, err = h.roles.RolesOf(ctx, addr, msg.SenderID)
			if err != nil {
				log.Printf("[gateway] roles of %s in %s: %v", actor, addr, err)
			}
		}
		if err := h.guard.Check(cmd.Kind, actor, roles); err != nil {
			res.Reply, res.Ephemeral, res.DeleteCommand, res.Err = ReplyForbidden, true, true, err
			return res
		}
	}

	switch cmd.Kind {
	case command.Deposit, command.Withdraw:
		return h.applyStash(ctx, res, actor)
	case command.Report:
		return h.applyReport(ctx, res, actor)
	case command.Stats:
		return h.stats(res)
	case command.Reset:
		return h.reset(ctx, res, actor)
	case command.Top:
		return h.top(res)
	case command.Members:
		return h.members(res)
	case command.Help:
		res.Reply = command.HelpText
		return res
	}
	res.Reply, res.Ephemeral, res.Err = ReplyInvalid, true, fmt.Errorf("unhandled command %s", cmd.Kind)
	return res
}

func (h *Handler) applyStash(ctx context.Context, res Result, actor string) Result {
	cmd := res.Command
	item := stash.NormalizeItem(cmd.Item)
	var (
		balance int
		err     error
		kind    audit.Kind
	)
	if cmd.Kind == command.Deposit {
		balance, err = h.stash.Deposit(ctx, cmd.Category, item, cmd.Quantity)
		kind = audit.KindDeposit
	} else {
		balance, err = h.stash.Withdraw(ctx, cmd.Category, item, cmd.Quantity)
		kind = audit.KindWithdraw
	}
	res.DeleteCommand = true
	if err != nil {
		res.Ephemeral, res.Err = true, err
		switch {
		case errors.Is(err, stash.ErrInsufficientStock):
			res.Reply = ReplyInsufficient
		case errors.Is(err, stash.ErrQuantityOverflow):
			res.Reply = ReplyOverflow
		default:
			log.Printf("[stash] %s %s x%d by %s failed: %v", cmd.Kind, item, cmd.Quantity, actor, err)
			res.Reply = ReplySaveFailed
		}
		return res
	}

	log.Printf("[stash] %s %s x%d (%s) by %s, balance %d", cmd.Kind, item, cmd.Quantity, cmd.Category, actor, balance)
	h.SyncStashBoard(ctx)
	rec := audit.NewRecord(kind, actor, item, cmd.Quantity, string(cmd.Category), h.now())
	rec.Balance = balance
	h.emit(ctx, rec)
	return res
}

func (h *Handler) applyReport(ctx context.Context, res Result, actor string) Result {
	cmd := res.Command
	entry, err := h.work.Record(ctx, actor, cmd.Item, cmd.Quantity)
	if err != nil {
		log.Printf("[workstats] record %s x%d by %s failed: %v", cmd.Item, cmd.Quantity, actor, err)
		res.Reply, res.Ephemeral, res.Err = ReplySaveFailed, true, err
		return res
	}

	h.SyncWorkBoard(ctx)
	h.emit(ctx, audit.NewRecord(audit.KindReport, actor, entry.Item, entry.Quantity, "", entry.Timestamp))
	res.Reply = fmt.Sprintf("✅ %s: +%s %s", workstats.NormalizeActor(actor), humanize.Comma(int64(entry.Quantity)), entry.Item)
	res.Ephemeral = true
	return res
}

func (h *Handler) stats(res Result) Result {
	window := h.window(res.Command.WindowDays)
	s, err := h.work.Query(res.Command.Target, window)
	if err != nil {
		res.Reply, res.Ephemeral, res.Err = fmt.Sprintf(ReplyNotFound, workstats.NormalizeActor(res.Command.Target)), true, err
		return res
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 **%s** · %s\n", s.Actor, board.WindowLabel(window))
	if len(s.Items) == 0 {
		sb.WriteString("No reports in this window.\n")
	}
	for _, it := range s.Items {
		fmt.Fprintf(&sb, "%s x%s\n", it.Item, humanize.Comma(int64(it.Quantity)))
	}
	fmt.Fprintf(&sb, "Total: x%s", humanize.Comma(int64(s.Total)))
	if !s.LastUpdate.IsZero() {
		fmt.Fprintf(&sb, " · last report %s", humanize.Time(s.LastUpdate))
	}
	res.Reply = sb.String()
	return res
}

func (h *Handler) reset(ctx context.Context, res Result, actor string) Result {
	target := workstats.NormalizeActor(res.Command.Target)
	n, err := h.work.Reset(ctx, target)
	if err != nil {
		res.Ephemeral, res.Err = true, err
		if errors.Is(err, workstats.ErrNotFound) {
			res.Reply = fmt.Sprintf(ReplyNotFound, target)
		} else {
			log.Printf("[workstats] reset %s by %s failed: %v", target, actor, err)
			res.Reply = ReplySaveFailed
		}
		return res
	}

	log.Printf("[workstats] reset %s by %s, %d entries removed", target, actor, n)
	h.SyncWorkBoard(ctx)
	h.emit(ctx, audit.NewRecord(audit.KindReset, actor, target, n, "", h.now()))
	res.Reply = fmt.Sprintf("♻️ Work stats for **%s** reset (%d entries).", target, n)
	return res
}

func (h *Handler) top(res Result) Result {
	n := res.Command.N
	if n <= 0 {
		n = h.topN
	}
	window := h.window(res.Command.WindowDays)
	res.Reply = FormatTop(h.work.Top(n, window), n, window)
	return res
}

// FormatTop renders a ranking as a chat reply.
func FormatTop(rows []workstats.Ranking, n, window int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏆 **Top %d** · %s", n, board.WindowLabel(window))
	if len(rows) == 0 {
		sb.WriteString("\nNo reports in this window.")
	}
	for i, r := range rows {
		fmt.Fprintf(&sb, "\n%d. %s x%s · %s", i+1, r.Actor, humanize.Comma(int64(r.Total)), humanize.Time(r.LastEntry))
	}
	return sb.String()
}

func (h *Handler) members(res Result) Result {
	list := h.work.Members()
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 **Members** (%d)", len(list))
	for _, m := range list {
		fmt.Fprintf(&sb, "\n%s · %d reports · x%s · %s", m.Actor, m.EntryCount, humanize.Comma(int64(m.Total)), humanize.Time(m.LastEntry))
	}
	res.Reply = sb.String()
	return res
}

func (h *Handler) window(days int) int {
	if days == command.DefaultWindow {
		return h.windowDays
	}
	return days
}

func (h *Handler) emit(ctx context.Context, rec audit.Record) {
	if h.audit == nil {
		return
	}
	// Delivery problems are already logged by the emitter.
	_ = h.audit.Emit(ctx, rec)
}

// SyncStashBoard re-renders the stash board into its channel.
func (h *Handler) SyncStashBoard(ctx context.Context) {
	if h.stashSync == nil || h.stashBoard.IsZero() {
		return
	}
	content := board.RenderStash(h.stash.Snapshot(), h.now().In(h.loc))
	if _, err := h.stashSync.Sync(ctx, h.stashBoard, content); err != nil {
		log.Printf("[board] stash board sync failed: %v", err)
	}
}

// SyncWorkBoard re-renders the work board over the default window.
func (h *Handler) SyncWorkBoard(ctx context.Context) {
	if h.workSync == nil || h.workBoard.IsZero() {
		return
	}
	content := board.RenderWork(h.work.Top(0, h.windowDays), h.windowDays, h.now().In(h.loc))
	if _, err := h.workSync.Sync(ctx, h.workBoard, content); err != nil {
		log.Printf("[board] work board sync failed: %v", err)
	}
}

// TopReport renders the default top-N ranking, as posted by scheduled jobs.
func (h *Handler) TopReport() string {
	return FormatTop(h.work.Top(h.topN, h.windowDays), h.topN, h.windowDays)
}
