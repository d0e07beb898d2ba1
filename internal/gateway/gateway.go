package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarlinkco/stashbot/internal/audit"
	"github.com/stellarlinkco/stashbot/internal/auth"
	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/channel"
	"github.com/stellarlinkco/stashbot/internal/chat"
	"github.com/stellarlinkco/stashbot/internal/command"
	"github.com/stellarlinkco/stashbot/internal/config"
	"github.com/stellarlinkco/stashbot/internal/cron"
	"github.com/stellarlinkco/stashbot/internal/stash"
	"github.com/stellarlinkco/stashbot/internal/store"
	"github.com/stellarlinkco/stashbot/internal/workstats"
)

// Options for creating a Gateway
type Options struct {
	Store      store.Store        // overrides cfg.Storage
	Platforms  []channel.Platform // registered in addition to the configured channels
	Now        func() time.Time
	SignalChan chan os.Signal // for testing signal handling
}

type jobResult struct {
	out string
	err error
}

type jobRequest struct {
	job  cron.CronJob
	done chan jobResult
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	store    store.Store
	channels *channel.ChannelManager
	cron     *cron.Service
	handler  *Handler
	notice   time.Duration

	jobs       chan jobRequest
	stopped    chan struct{}
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		notice:     time.Duration(cfg.Board.NoticeSeconds) * time.Second,
		jobs:       make(chan jobRequest),
		stopped:    make(chan struct{}),
		signalChan: opts.SignalChan,
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// Message bus
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	// Store
	g.store = opts.Store
	if g.store == nil {
		st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Dir, cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		g.store = st
	}

	ctx := context.Background()
	stashLedger, err := stash.Open(ctx, g.store)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("load stash: %w", err)
	}
	workLedger, err := workstats.Open(ctx, g.store, now)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("load work stats: %w", err)
	}

	// Channels
	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	for _, p := range opts.Platforms {
		chMgr.Register(p)
	}
	g.channels = chMgr

	// Audit
	var journal audit.Journal
	if j, ok := g.store.(audit.Journal); ok {
		journal = j
	}
	emitter := audit.NewEmitter(g.bus, map[audit.Kind]bus.Address{
		audit.KindDeposit:  config.Address(cfg.Stash.DepositLog),
		audit.KindWithdraw: config.Address(cfg.Stash.WithdrawLog),
		audit.KindReport:   config.Address(cfg.Work.Log),
		audit.KindReset:    config.Address(cfg.Work.Log),
	}, journal)

	surfaces := make(map[bus.Address]command.Surface)
	for _, addr := range config.Addresses(cfg.Stash.CommandChannels) {
		surfaces[addr] |= command.StashLines
	}
	for _, addr := range config.Addresses(cfg.Work.ReportChannels) {
		surfaces[addr] |= command.WorkLines
	}

	g.handler = NewHandler(HandlerOptions{
		Stash:     stashLedger,
		Work:      workLedger,
		Guard:     auth.NewGuard(auth.Policy{Stash: cfg.Roles.Stash, Workers: cfg.Roles.Workers, Leaders: cfg.Roles.Leaders}),
		Roles:     chMgr,
		Messenger: chMgr,
		Audit:     emitter,

		StashBoard: config.Address(cfg.Stash.BoardChannel),
		WorkBoard:  config.Address(cfg.Work.BoardChannel),
		ScanLimit:  cfg.Board.ScanLimit,
		Surfaces:   surfaces,
		WindowDays: cfg.Work.WindowDays,
		TopN:       cfg.Work.TopN,
		Location:   cfg.Location(),
		Now:        now,
	})

	// Cron
	g.cron = cron.NewService(cfg.Cron.Jobs)
	g.cron.OnJob = g.submitJob

	return g, nil
}

// Handler exposes the command pipeline.
func (g *Gateway) Handler() *Handler {
	return g.handler
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	go g.processLoop(ctx)

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	log.Printf("[gateway] running")

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	<-g.stopped
	return g.Shutdown()
}

// processLoop handles inbound messages and scheduled jobs one at a time, so
// ledger mutations never interleave.
func (g *Gateway) processLoop(ctx context.Context) {
	defer close(g.stopped)

	g.safely("startup board sync", func() {
		g.handler.SyncStashBoard(ctx)
		g.handler.SyncWorkBoard(ctx)
	})

	for {
		select {
		case msg := <-g.bus.Inbound:
			g.safely("inbound", func() { g.handleInbound(ctx, msg) })
		case req := <-g.jobs:
			var r jobResult
			g.safely("job "+req.job.Name, func() { r.out, r.err = g.runJob(ctx, req.job) })
			req.done <- r
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] recovered panic in %s: %v", what, r)
		}
	}()
	fn()
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	res := g.handler.Handle(ctx, msg)
	if !res.Handled {
		return
	}
	log.Printf("[gateway] %s from %s/%s: %s", res.Command.Kind, msg.Channel, msg.Sender, truncate(msg.Content, 80))
	if res.Err != nil {
		log.Printf("[gateway] %s rejected: %v", res.Command.Kind, res.Err)
	}

	if res.Reply != "" {
		out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: res.Reply}
		if res.Ephemeral {
			out.DeleteAfter = g.notice
		}
		if !res.DeleteCommand {
			out.ReplyTo = msg.MessageID
		}
		g.publish(ctx, out)
	}

	if res.DeleteCommand && msg.MessageID != "" {
		ref := chat.MessageRef{Address: msg.Address(), MessageID: msg.MessageID}
		if err := g.channels.DeleteMessage(ctx, ref); err != nil {
			log.Printf("[gateway] delete command message %s failed: %v", msg.MessageID, err)
		}
	}
}

func (g *Gateway) publish(ctx context.Context, msg bus.OutboundMessage) {
	select {
	case g.bus.Outbound <- msg:
	case <-ctx.Done():
	}
}

// submitJob hands a scheduled job to the process loop and waits for it.
func (g *Gateway) submitJob(job cron.CronJob) (string, error) {
	req := jobRequest{job: job, done: make(chan jobResult, 1)}
	select {
	case g.jobs <- req:
	case <-g.stopped:
		return "", errors.New("gateway stopped")
	}
	r := <-req.done
	return r.out, r.err
}

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	switch job.Action {
	case cron.ActionRefreshBoards:
		g.handler.SyncStashBoard(ctx)
		g.handler.SyncWorkBoard(ctx)
		return "boards refreshed", nil
	case cron.ActionPostTop:
		if job.Target.IsZero() {
			return "", fmt.Errorf("job %s has no target", job.Name)
		}
		report := g.handler.TopReport()
		g.publish(ctx, bus.OutboundMessage{Channel: job.Target.Channel, ChatID: job.Target.ChatID, Content: report})
		return report, nil
	}
	return "", fmt.Errorf("unknown action %q", job.Action)
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j] + "..."
		}
		i++
	}
	return s
}
