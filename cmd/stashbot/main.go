package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/stashbot/internal/board"
	"github.com/stellarlinkco/stashbot/internal/config"
	"github.com/stellarlinkco/stashbot/internal/gateway"
	"github.com/stellarlinkco/stashbot/internal/stash"
	"github.com/stellarlinkco/stashbot/internal/store"
	"github.com/stellarlinkco/stashbot/internal/workstats"
)

var rootCmd = &cobra.Command{
	Use:   "stashbot",
	Short: "stashbot - stash and work stats ledger for chat servers",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (channels + boards + cron)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stashbot status",
	RunE:  runStatus,
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Print the current stash board",
	RunE:  runBoard,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the work ranking",
	RunE:  runTop,
}

var (
	workFlag bool
	daysFlag int
	nFlag    int
)

func init() {
	boardCmd.Flags().BoolVarP(&workFlag, "work", "w", false, "Print the work board instead")
	topCmd.Flags().IntVarP(&daysFlag, "days", "d", -1, "Window in days, 0 for all time (default from config)")
	topCmd.Flags().IntVarP(&nFlag, "n", "n", 0, "Number of members to list (default from config)")
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, boardCmd, topCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Channels.Discord.Enabled && !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("no channel enabled. Run 'stashbot onboard' and enable discord or telegram in %s", config.ConfigPath())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fmt.Fprintf(out, "Data directory ready: %s\n", cfg.Storage.Dir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to enable a channel and set the board and log channels\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set STASHBOT_DISCORD_TOKEN / STASHBOT_TELEGRAM_TOKEN")
	fmt.Fprintln(out, "  3. Run 'stashbot run'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Dir)
	fmt.Fprintf(out, "Discord: enabled=%v token=%s\n", cfg.Channels.Discord.Enabled, maskToken(cfg.Channels.Discord.Token))
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, maskToken(cfg.Channels.Telegram.Token))
	fmt.Fprintf(out, "Stash board: %s\n", orUnset(cfg.Stash.BoardChannel))
	fmt.Fprintf(out, "Work board: %s\n", orUnset(cfg.Work.BoardChannel))
	fmt.Fprintf(out, "Cron jobs: %d\n", len(cfg.Cron.Jobs))

	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Dir, cfg.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(out, "Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	ctx := context.Background()
	if l, err := stash.Open(ctx, st); err != nil {
		fmt.Fprintf(out, "Stash: error (%v)\n", err)
	} else {
		inv := l.Snapshot()
		n := 0
		for _, c := range stash.Categories {
			n += len(inv[c])
		}
		fmt.Fprintf(out, "Stash: %d items\n", n)
	}
	if l, err := workstats.Open(ctx, st, time.Now); err != nil {
		fmt.Fprintf(out, "Work stats: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Work stats: %d members\n", len(l.Members()))
	}
	return nil
}

func runBoard(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().In(cfg.Location())
	if workFlag {
		l, err := workstats.Open(ctx, st, time.Now)
		if err != nil {
			return err
		}
		return printBlock(cmd.OutOrStdout(), board.RenderWork(l.Top(0, cfg.Work.WindowDays), cfg.Work.WindowDays, now))
	}

	l, err := stash.Open(ctx, st)
	if err != nil {
		return err
	}
	return printBlock(cmd.OutOrStdout(), board.RenderStash(l.Snapshot(), now))
}

func runTop(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := workstats.Open(context.Background(), st, time.Now)
	if err != nil {
		return err
	}
	days := daysFlag
	if days < 0 {
		days = cfg.Work.WindowDays
	}
	n := nFlag
	if n <= 0 {
		n = cfg.Work.TopN
	}
	return printBlock(cmd.OutOrStdout(), gateway.FormatTop(l.Top(n, days), n, days))
}

func openStore() (*config.Config, store.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Dir, cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, nil
}

func printBlock(w io.Writer, s string) error {
	_, err := fmt.Fprintln(w, s)
	return err
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	default:
		return "set"
	}
}

func orUnset(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}
