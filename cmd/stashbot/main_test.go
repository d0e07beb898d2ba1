package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/stashbot/internal/board"
	"github.com/stellarlinkco/stashbot/internal/config"
	"github.com/stellarlinkco/stashbot/internal/stash"
	"github.com/stellarlinkco/stashbot/internal/store"
	"github.com/stellarlinkco/stashbot/internal/workstats"
)

// setupHome points the config dir at a temp dir and clears env overrides.
func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("STASHBOT_HOME", tmpDir)
	for _, key := range []string{
		"TOKEN", "STASHBOT_DISCORD_TOKEN", "STASHBOT_TELEGRAM_TOKEN",
		"STASHBOT_STORAGE_DRIVER", "STASHBOT_DATA_DIR", "STASHBOT_DB_PATH", "STASHBOT_WINDOW_DAYS",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func run(t *testing.T, fn func(*cobra.Command, []string) error) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	err := fn(cmd, []string{})
	return buf.String(), err
}

func seed(t *testing.T, dir string) {
	t.Helper()
	st, err := store.NewFileStore(filepath.Join(dir, "data"), store.JSONCodec{})
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()
	sl, _ := stash.Open(ctx, st)
	if _, err := sl.Deposit(ctx, stash.Weapons, "ak47", 10); err != nil {
		t.Fatalf("Deposit error: %v", err)
	}
	if _, err := sl.Deposit(ctx, stash.Drugs, "weed", 3); err != nil {
		t.Fatalf("Deposit error: %v", err)
	}

	clock := time.Now()
	wl, _ := workstats.Open(ctx, st, func() time.Time { return clock })
	clock = time.Now().Add(-30 * 24 * time.Hour)
	if _, err := wl.Record(ctx, "carol", "diving", 40); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	clock = time.Now()
	if _, err := wl.Record(ctx, "alice", "diving", 5); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if _, err := wl.Record(ctx, "bob", "fishing", 2); err != nil {
		t.Fatalf("Record error: %v", err)
	}
}

func TestInit(t *testing.T) {
	for _, c := range []*cobra.Command{runCmd, onboardCmd, statusCmd, boardCmd, topCmd} {
		if c == nil {
			t.Fatal("command should not be nil")
		}
	}
	if topCmd.Flags().Lookup("days") == nil {
		t.Error("days flag should exist")
	}
	if boardCmd.Flags().Lookup("work") == nil {
		t.Error("work flag should exist")
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setupHome(t)

	output, err := run(t, runOnboard)
	if err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "config.json")); err != nil {
		t.Error("config file was not created")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "data")); err != nil {
		t.Error("data dir was not created")
	}
	if !strings.Contains(output, "Created config") {
		t.Errorf("unexpected output: %s", output)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Work.WindowDays != config.DefaultWindowDays {
		t.Errorf("WindowDays = %d", cfg.Work.WindowDays)
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	tmpDir := setupHome(t)
	os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{}"), 0644)

	output, err := run(t, runOnboard)
	if err != nil {
		t.Errorf("runOnboard error: %v", err)
	}
	if !strings.Contains(output, "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", output)
	}
}

func TestRunGateway_NoChannel(t *testing.T) {
	setupHome(t)

	err := runGateway(&cobra.Command{}, []string{})
	if err == nil {
		t.Fatal("expected error when no channel is enabled")
	}
	if !strings.Contains(err.Error(), "no channel enabled") {
		t.Errorf("error should mention channels: %v", err)
	}
}

func TestRunGateway_InvalidConfig(t *testing.T) {
	tmpDir := setupHome(t)
	os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{not json"), 0644)

	if err := runGateway(&cobra.Command{}, []string{}); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestRunStatus(t *testing.T) {
	tmpDir := setupHome(t)
	seed(t, tmpDir)
	t.Setenv("STASHBOT_DISCORD_TOKEN", "abcd1234efgh5678")

	output, err := run(t, runStatus)
	if err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	for _, want := range []string{
		"Storage: json",
		"Discord: enabled=false token=abcd...5678",
		"Telegram: enabled=false token=not set",
		"Stash board: not set",
		"Stash: 2 items",
		"Work stats: 3 members",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestRunStatus_ConfigError(t *testing.T) {
	tmpDir := setupHome(t)
	os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{bad"), 0644)

	output, err := run(t, runStatus)
	if err != nil {
		t.Errorf("runStatus should not fail: %v", err)
	}
	if !strings.Contains(output, "Config: error") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestRunBoard(t *testing.T) {
	tmpDir := setupHome(t)
	seed(t, tmpDir)

	workFlag = false
	output, err := run(t, runBoard)
	if err != nil {
		t.Fatalf("runBoard error: %v", err)
	}
	if !strings.HasPrefix(output, board.StashSentinel) {
		t.Errorf("output should start with the stash sentinel:\n%s", output)
	}
	for _, want := range []string{"ak47", "x10", "weed", "x3"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestRunBoard_Work(t *testing.T) {
	tmpDir := setupHome(t)
	seed(t, tmpDir)

	workFlag = true
	defer func() { workFlag = false }()
	output, err := run(t, runBoard)
	if err != nil {
		t.Fatalf("runBoard error: %v", err)
	}
	if !strings.HasPrefix(output, board.WorkSentinel) {
		t.Errorf("output should start with the work sentinel:\n%s", output)
	}
	if strings.Contains(output, "carol") {
		t.Errorf("carol is outside the default window:\n%s", output)
	}
}

func TestRunTop(t *testing.T) {
	tmpDir := setupHome(t)
	seed(t, tmpDir)
	defer func() { daysFlag, nFlag = -1, 0 }()

	daysFlag, nFlag = -1, 0
	output, err := run(t, runTop)
	if err != nil {
		t.Fatalf("runTop error: %v", err)
	}
	if !strings.Contains(output, "1. alice x5") || !strings.Contains(output, "2. bob x2") {
		t.Errorf("unexpected ranking:\n%s", output)
	}
	if strings.Contains(output, "carol") {
		t.Errorf("carol is outside the default window:\n%s", output)
	}

	daysFlag, nFlag = 0, 1
	output, err = run(t, runTop)
	if err != nil {
		t.Fatalf("runTop error: %v", err)
	}
	if !strings.Contains(output, "All time") || !strings.Contains(output, "1. carol x40") || strings.Contains(output, "alice") {
		t.Errorf("unexpected all-time ranking:\n%s", output)
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "not set"},
		{"short", "set"},
		{"abcd1234efgh5678", "abcd...5678"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
