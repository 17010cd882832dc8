package cronjob

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrUnsupportedCron = errors.New("unsupported cron expression")
	ErrStoreIO         = errors.New("job store io")
	ErrInvalidDelivery = errors.New("invalid delivery")
)

// ScheduleKind defines how a job's execution time is determined.
type ScheduleKind string

const (
	// ScheduleAt fires once at Schedule.AtMs.
	ScheduleAt ScheduleKind = "at"
	// ScheduleEvery fires every Schedule.EveryMs, aligned to AnchorMs (or the
	// job's creation time).
	ScheduleEvery ScheduleKind = "every"
	// ScheduleCron uses a 5-field cron expression; only minute and hour are
	// evaluated.
	ScheduleCron ScheduleKind = "cron"
)

// DeliveryKind names the destination a job's message is sent to.
type DeliveryKind string

const (
	DeliveryTelegram DeliveryKind = "telegram"
	DeliveryTerminal DeliveryKind = "terminal"
	DeliveryWebhook  DeliveryKind = "webhook"
)

// RunStatus is the outcome recorded by MarkRun.
type RunStatus string

const (
	StatusOK      RunStatus = "ok"
	StatusError   RunStatus = "error"
	StatusSkipped RunStatus = "skipped"
)

// Schedule is a kind-discriminated union; only the fields of Kind are meaningful.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	AtMs int64 `json:"atMs,omitempty"`

	EveryMs  int64 `json:"everyMs,omitempty"`
	AnchorMs int64 `json:"anchorMs,omitempty"`

	Expr string `json:"expr,omitempty"`
	Tz   string `json:"tz,omitempty"`
}

// Delivery is a kind-discriminated union; only the fields of Kind are meaningful.
type Delivery struct {
	Kind   DeliveryKind `json:"kind"`
	ChatID string       `json:"chatId,omitempty"`
	URL    string       `json:"url,omitempty"`
}

// State is the run bookkeeping maintained by the store.
type State struct {
	// NextRunAtMs == 0 means there is no future occurrence.
	NextRunAtMs int64     `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64     `json:"lastRunAtMs,omitempty"`
	LastStatus  RunStatus `json:"lastStatus,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	RunCount    int       `json:"runCount"`
}

// Job describes a single scheduled reminder.
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Enabled        bool      `json:"enabled"`
	DeleteAfterRun *bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64     `json:"createdAtMs"`
	UpdatedAtMs    int64     `json:"updatedAtMs"`
	Schedule       Schedule  `json:"schedule"`
	Message        string    `json:"message"`
	Delivery       *Delivery `json:"delivery,omitempty"`
	State          State     `json:"state"`
}

// HasNextRun reports whether the job has a future occurrence.
func (j Job) HasNextRun() bool {
	return j.State.NextRunAtMs > 0
}

// deletesAfterRun reports whether MarkRun should remove the job. Only one-shot
// jobs are ever deleted, and they are unless explicitly opted out.
func (j Job) deletesAfterRun() bool {
	return j.Schedule.Kind == ScheduleAt && (j.DeleteAfterRun == nil || *j.DeleteAfterRun)
}

// JobInput is the caller-supplied part of a new job.
type JobInput struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"` // nil means enabled
	DeleteAfterRun *bool     `json:"deleteAfterRun,omitempty"`
	Schedule       Schedule  `json:"schedule"`
	Message        string    `json:"message"`
	Delivery       *Delivery `json:"delivery,omitempty"`
}

// JobPatch updates selected fields of an existing job; nil fields are left alone.
type JobPatch struct {
	Name           *string   `json:"name,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"`
	DeleteAfterRun *bool     `json:"deleteAfterRun,omitempty"`
	Schedule       *Schedule `json:"schedule,omitempty"`
	Message        *string   `json:"message,omitempty"`
	Delivery       *Delivery `json:"delivery,omitempty"`
	// ClearDelivery drops the job's delivery so it falls back to the default handler.
	ClearDelivery bool `json:"clearDelivery,omitempty"`
}

func (d *Delivery) validate() error {
	if d == nil {
		return nil
	}
	switch d.Kind {
	case DeliveryTelegram:
		if d.ChatID == "" {
			return fmt.Errorf("%w: telegram delivery requires chatId", ErrInvalidDelivery)
		}
	case DeliveryTerminal:
	case DeliveryWebhook:
		if d.URL == "" {
			return fmt.Errorf("%w: webhook delivery requires url", ErrInvalidDelivery)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDelivery, d.Kind)
	}
	return nil
}
