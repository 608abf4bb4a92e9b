// Package job defines the schedulable message job and the normalization
// rules that keep the persisted job table consistent across the schema
// generations that have existed for it.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Capacity is the hard ceiling on live jobs.
	Capacity = 10

	// MinDelay is the smallest schedulable lead time.
	MinDelay = 10 * time.Second

	// ReminderDelay is the fixed offset for send-now self-reminders.
	ReminderDelay = 60 * time.Second
)

type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindReminder  Kind = "reminder"
)

type Status string

const (
	StatusScheduled Status = "scheduled"

	// Legacy slot-table statuses. They only appear in persisted state written
	// by the fixed-slot schema generation; the runtime never stores them.
	StatusEmpty    Status = "empty"
	StatusSent     Status = "sent"
	StatusCanceled Status = "canceled"
)

var (
	ErrCapacity  = errors.New("job table is full")
	ErrEmptyText = errors.New("message is empty")
)

// Job is one pending scheduled message. Timestamps are epoch seconds, the
// unit the persisted schema has always used.
type Job struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	WebhookIndex int    `json:"webhookIndex"`
	Kind         Kind   `json:"kind"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	SendAt       int64  `json:"sendAt"`
}

// New builds a live job firing delay from now. The id is never reused.
func New(text string, webhookIndex int, kind Kind, now time.Time, delay time.Duration) Job {
	if kind != KindReminder {
		kind = KindScheduled
	}
	return Job{
		ID:           uuid.NewString(),
		Text:         text,
		WebhookIndex: webhookIndex,
		Kind:         kind,
		Status:       StatusScheduled,
		CreatedAt:    now.Unix(),
		SendAt:       now.Add(delay).Unix(),
	}
}

// Validate checks a create draft. The webhook index is deliberately not
// validated: out-of-range indexes clamp at resolve time instead.
func (j Job) Validate(now time.Time) error {
	if strings.TrimSpace(j.Text) == "" {
		return ErrEmptyText
	}
	delay := j.SendAt - now.Unix()
	if delay < int64(MinDelay/time.Second) {
		return fmt.Errorf("delay must be at least %d seconds", int64(MinDelay/time.Second))
	}
	return nil
}

// FireAt is the absolute fire instant.
func (j Job) FireAt() time.Time { return time.Unix(j.SendAt, 0) }

// Remaining is the derived, never-persisted countdown shown to users.
func (j Job) Remaining(now time.Time) time.Duration {
	d := time.Unix(j.SendAt, 0).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
