// Package cron keeps the agent's local scheduled-task list and parses the
// schedules attached to it.
package cron

import "time"

// ScheduleType identifies how a job's schedule value is interpreted.
type ScheduleType string

const (
	// ScheduleAt fires once at an absolute time.
	ScheduleAt ScheduleType = "at"
	// ScheduleEvery fires repeatedly at a fixed interval.
	ScheduleEvery ScheduleType = "every"
	// ScheduleCron fires on a cron expression.
	ScheduleCron ScheduleType = "cron"
)

// Schedule is the persisted form of a job schedule. Exactly one of Date,
// IntervalMs or Expression is set, matching Type.
type Schedule struct {
	Type       ScheduleType `json:"type"`
	Date       string       `json:"date,omitempty"`
	IntervalMs int64        `json:"intervalMs,omitempty"`
	Expression string       `json:"expression,omitempty"`
}

// Job is a scheduled task.
type Job struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Task        string     `json:"task"`
	Schedule    Schedule   `json:"schedule"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty"`
}

// AddOptions describes a new job. ID is generated when empty.
type AddOptions struct {
	ID       string
	Label    string
	Task     string
	Schedule Schedule
}

// Patch updates selected fields of a job. Nil fields are left unchanged.
type Patch struct {
	Label    *string
	Task     *string
	Schedule *Schedule
	Enabled  *bool
}
