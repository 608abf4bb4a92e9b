package store

import (
	"context"
	"errors"
	"strings"

	logx "hooksched/pkg/logx"
)

// Store is the minimal persistence API used by the coordinator and API.
type Store interface {
	// Get returns the raw value for key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the value for key. The write is atomic from the
	// perspective of concurrent readers of the same store.
	Put(ctx context.Context, key string, value []byte) error

	AppendDelivery(ctx context.Context, rec DeliveryRecord) error
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "bbolt", "bolt":
		return openBolt(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
