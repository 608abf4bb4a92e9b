package store

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "bbolt": single-file key-value database (default)
//   - "file": dependency-free file backend (json snapshot + jsonl)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Keys of the persisted state. The names are part of the on-disk schema and
// predate this implementation; do not rename them.
const (
	KeyWebhooks     = "webhooks"
	KeyJobs         = "scheduledJobs"
	KeyLastIndex    = "lastWebhookIndex"
	KeyQuickActions = "quickActions"
)

// DeliveryRecord is one audit row per dispatch attempt.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At           time.Time `json:"at"`
	JobID        string    `json:"jobId,omitempty"`
	Kind         string    `json:"kind"`
	WebhookIndex int       `json:"webhookIndex"`
	OK           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
	TookMS       int64     `json:"tookMs"`
}
