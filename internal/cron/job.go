package cron

import (
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/config"
)

// Actions a scheduled job can trigger.
const (
	ActionRefreshBoards = "refresh-boards"
	ActionPostTop       = "post-top"
)

type CronJob struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Expr    string      `json:"expr"`
	Action  string      `json:"action"`
	Target  bus.Address `json:"target"`
	Enabled bool        `json:"enabled"`
	State   JobState    `json:"state"`
}

type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"` // ok or error
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

func NewCronJob(cfg config.JobConfig) CronJob {
	name := cfg.Name
	if name == "" {
		name = cfg.Action
	}
	return CronJob{
		ID:      uuid.NewString(),
		Name:    name,
		Expr:    cfg.Expr,
		Action:  cfg.Action,
		Target:  config.Address(cfg.Target),
		Enabled: true,
	}
}
