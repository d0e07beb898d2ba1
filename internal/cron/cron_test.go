package cron

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellarlinkco/stashbot/internal/config"
)

func TestNewCronJob(t *testing.T) {
	job := NewCronJob(config.JobConfig{Name: "nightly", Expr: "0 0 3 * * *", Action: ActionPostTop, Target: "telegram:-7"})
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "nightly" {
		t.Errorf("name = %q, want nightly", job.Name)
	}
	if !job.Enabled {
		t.Error("job should be enabled by default")
	}
	if job.Target.Channel != "telegram" || job.Target.ChatID != "-7" {
		t.Errorf("target = %+v", job.Target)
	}
}

func TestNewCronJob_DefaultName(t *testing.T) {
	job := NewCronJob(config.JobConfig{Expr: "@hourly", Action: ActionRefreshBoards})
	if job.Name != ActionRefreshBoards {
		t.Errorf("name = %q, want %q", job.Name, ActionRefreshBoards)
	}
	if !job.Target.IsZero() {
		t.Errorf("target = %+v, want zero", job.Target)
	}
}

func TestService_ListJobs(t *testing.T) {
	s := NewService([]config.JobConfig{
		{Name: "a", Expr: "@hourly", Action: ActionRefreshBoards},
		{Name: "b", Expr: "@daily", Action: ActionPostTop, Target: "1"},
	})
	jobs := s.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].ID == jobs[1].ID {
		t.Error("job IDs should be unique")
	}
	// ListJobs returns a copy
	jobs[0].Name = "changed"
	if s.ListJobs()[0].Name != "a" {
		t.Error("ListJobs should return a copy")
	}
}

func TestService_StartStop(t *testing.T) {
	s := NewService([]config.JobConfig{{Name: "a", Expr: "@hourly", Action: ActionRefreshBoards}})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if len(s.entryMap) != 1 {
		t.Errorf("entryMap = %d, want 1", len(s.entryMap))
	}
	s.Stop()
}

func TestService_Start_InvalidExpr(t *testing.T) {
	s := NewService([]config.JobConfig{{Name: "bad", Expr: "not a cron", Action: ActionRefreshBoards}})
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestService_Start_BadJobDoesNotBlockOthers(t *testing.T) {
	s := NewService([]config.JobConfig{
		{Name: "bad", Expr: "61 * * * * *", Action: ActionRefreshBoards},
		{Name: "tick", Expr: "@every 1s", Action: ActionRefreshBoards},
	})
	var calls atomic.Int32
	s.OnJob = func(job CronJob) (string, error) {
		if job.Name != "tick" {
			t.Errorf("ran job %q", job.Name)
		}
		calls.Add(1)
		return "ok", nil
	}

	err := s.Start(context.Background())
	defer s.Stop()
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("Start error = %v, want one naming the bad job", err)
	}
	if len(s.entryMap) != 1 {
		t.Errorf("entryMap = %d, want 1", len(s.entryMap))
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && calls.Load() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Error("valid job should still run")
	}
}

func TestService_ContextCancelStops(t *testing.T) {
	s := NewService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		stopped := s.stopCh == nil
		s.mu.Unlock()
		if stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("service should stop when context is cancelled")
}

func TestService_ScheduledRun(t *testing.T) {
	s := NewService([]config.JobConfig{{Name: "tick", Expr: "@every 1s", Action: ActionRefreshBoards}})
	var calls atomic.Int32
	s.OnJob = func(job CronJob) (string, error) {
		if job.Action != ActionRefreshBoards {
			t.Errorf("action = %q", job.Action)
		}
		calls.Add(1)
		return "refreshed", nil
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && calls.Load() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("job never ran")
	}
}

func TestService_RunJob_RecordsState(t *testing.T) {
	s := NewService([]config.JobConfig{
		{Name: "ok", Expr: "@hourly", Action: ActionRefreshBoards},
		{Name: "fail", Expr: "@hourly", Action: ActionPostTop, Target: "1"},
	})
	s.OnJob = func(job CronJob) (string, error) {
		if job.Name == "fail" {
			return "", fmt.Errorf("board channel missing")
		}
		return "done", nil
	}

	if err := s.RunJob("ok"); err != nil {
		t.Fatalf("RunJob error: %v", err)
	}
	if err := s.RunJob("fail"); err != nil {
		t.Fatalf("RunJob error: %v", err)
	}
	if err := s.RunJob("missing"); err == nil {
		t.Error("expected error for unknown job")
	}

	jobs := s.ListJobs()
	if jobs[0].State.LastStatus != "ok" || jobs[0].State.Runs != 1 || jobs[0].State.LastRunAt.IsZero() {
		t.Errorf("ok state = %+v", jobs[0].State)
	}
	if jobs[1].State.LastStatus != "error" || jobs[1].State.LastError != "board channel missing" {
		t.Errorf("fail state = %+v", jobs[1].State)
	}
}

func TestService_RunJob_NoHandler(t *testing.T) {
	s := NewService([]config.JobConfig{{Name: "a", Expr: "@hourly", Action: ActionRefreshBoards}})
	if err := s.RunJob("a"); err != nil {
		t.Fatalf("RunJob error: %v", err)
	}
	if s.ListJobs()[0].State.Runs != 0 {
		t.Error("job without handler should not record a run")
	}
}

func TestService_EnableJob(t *testing.T) {
	s := NewService([]config.JobConfig{{Name: "a", Expr: "@hourly", Action: ActionRefreshBoards}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()
	id := s.ListJobs()[0].ID

	job, err := s.EnableJob(id, false)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if job.Enabled || len(s.entryMap) != 0 {
		t.Errorf("disabled job still scheduled: %+v", job)
	}

	job, err = s.EnableJob(id, true)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if !job.Enabled || len(s.entryMap) != 1 {
		t.Errorf("enabled job not scheduled: %+v", job)
	}

	if _, err := s.EnableJob("nope", true); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 4, "this..."},
		{"Übergabe läuft", 3, "Übe..."},
		{"🔫🔫", 1, "🔫..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
