package store

import (
	"context"
	"encoding/json"

	"hooksched/internal/endpoint"
	"hooksched/internal/job"
	"hooksched/internal/message"
)

// Typed accessors over the schema'd keys. Loads run the owning package's
// normalizer, so a reader always sees a well-formed value no matter which
// schema generation (or corruption) is on disk.

func LoadJobs(ctx context.Context, s Store) ([]job.Job, error) {
	raw, err := s.Get(ctx, KeyJobs)
	if err != nil {
		return nil, err
	}
	return job.Normalize(raw), nil
}

func SaveJobs(ctx context.Context, s Store, jobs []job.Job) error {
	if jobs == nil {
		jobs = []job.Job{}
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyJobs, data)
}

func LoadEndpoints(ctx context.Context, s Store) (endpoint.Table, error) {
	raw, err := s.Get(ctx, KeyWebhooks)
	if err != nil {
		return endpoint.Table{}, err
	}
	return endpoint.Normalize(raw), nil
}

func SaveEndpoints(ctx context.Context, s Store, t endpoint.Table) error {
	data, err := json.Marshal(t[:])
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyWebhooks, data)
}

func LoadLastIndex(ctx context.Context, s Store) (int, error) {
	raw, err := s.Get(ctx, KeyLastIndex)
	if err != nil {
		return 0, err
	}
	var i int
	if len(raw) == 0 || json.Unmarshal(raw, &i) != nil {
		return 0, nil
	}
	return endpoint.ClampIndex(i), nil
}

func SaveLastIndex(ctx context.Context, s Store, i int) error {
	data, err := json.Marshal(endpoint.ClampIndex(i))
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyLastIndex, data)
}

func LoadQuickActions(ctx context.Context, s Store) ([message.QuickActionSlots]message.QuickAction, error) {
	raw, err := s.Get(ctx, KeyQuickActions)
	if err != nil {
		return [message.QuickActionSlots]message.QuickAction{}, err
	}
	return message.NormalizeQuickActions(raw), nil
}

func SaveQuickActions(ctx context.Context, s Store, qa [message.QuickActionSlots]message.QuickAction) error {
	data, err := json.Marshal(qa[:])
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyQuickActions, data)
}
