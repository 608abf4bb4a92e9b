package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "hooksched/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json       (key-value snapshot, rewritten atomically)
//   - <prefix>.deliveries.jsonl (append-only JSON Lines audit)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	kv        map[string]json.RawMessage

	deliveriesPath string
	deliveries     *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	statePath := prefix + ".state.json"
	deliveriesPath := prefix + ".deliveries.jsonl"

	kv := map[string]json.RawMessage{}
	if b, err := os.ReadFile(statePath); err == nil && len(b) > 0 {
		// A corrupt snapshot degrades to empty state instead of refusing
		// to start; normalizers upstream tolerate missing keys.
		if err := json.Unmarshal(b, &kv); err != nil {
			log.Warn("state snapshot unreadable; starting empty", logx.String("path", statePath), logx.Err(err))
			kv = map[string]json.RawMessage{}
		}
	}

	df, err := os.OpenFile(deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:            log,
		statePath:      statePath,
		kv:             kv,
		deliveriesPath: deliveriesPath,
		deliveries:     df,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries != nil {
		err := s.deliveries.Close()
		s.deliveries = nil
		return err
	}
	return nil
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *fileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = append([]byte(nil), value...)
	return s.writeSnapshotLocked()
}

// writeSnapshotLocked rewrites the whole state file via temp+rename so a
// crash mid-write never leaves a truncated snapshot behind.
func (s *fileStore) writeSnapshotLocked() error {
	data, err := json.Marshal(s.kv)
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) AppendDelivery(ctx context.Context, rec DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return errors.New("deliveries file closed")
	}
	enc := json.NewEncoder(s.deliveries)
	return enc.Encode(rec)
}

func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.deliveriesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeliveryRecord{}, nil
		}
		return nil, err
	}
	defer f.Close()

	// The audit file is small-ish; scan it all and keep the tail.
	var all []DeliveryRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec DeliveryRecord
		if json.Unmarshal(sc.Bytes(), &rec) != nil {
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// Newest first, matching the other drivers.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if all == nil {
		all = []DeliveryRecord{}
	}
	return all, nil
}
