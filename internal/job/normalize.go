package job

import (
	"encoding/json"
	"sort"
)

// rawJob is the superset of fields across both persisted generations.
//
// Generation A stores a dynamic array of live jobs. Generation B stored a
// fixed table of 10 positional slots where Status distinguishes an occupied
// slot from a placeholder, and kept DelaySeconds for display. Loading is
// unified: anything not a live job is dropped, so a Gen B table imports as
// its live slots and nothing else.
type rawJob struct {
	ID           string          `json:"id"`
	Text         string          `json:"text"`
	WebhookIndex json.RawMessage `json:"webhookIndex"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	CreatedAt    json.RawMessage `json:"createdAt"`
	SendAt       json.RawMessage `json:"sendAt"`
	DelaySeconds json.RawMessage `json:"delaySeconds"`
}

// Normalize turns arbitrary persisted bytes into a well-formed live job
// list: at most Capacity entries, ascending SendAt, every entry carrying a
// non-empty id and text and a non-zero fire time.
//
// Malformed input of any shape degrades to an empty list. Normalize never
// fails; failing would make a corrupt store permanently unloadable.
func Normalize(raw []byte) []Job {
	if len(raw) == 0 {
		return []Job{}
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return []Job{}
	}

	out := make([]Job, 0, len(arr))
	for _, el := range arr {
		j, ok := normalizeOne(el)
		if !ok {
			continue
		}
		out = append(out, j)
	}

	sort.SliceStable(out, func(i, k int) bool { return out[i].SendAt < out[k].SendAt })
	if len(out) > Capacity {
		out = out[:Capacity]
	}
	return out
}

func normalizeOne(el json.RawMessage) (Job, bool) {
	var r rawJob
	if err := json.Unmarshal(el, &r); err != nil {
		return Job{}, false
	}

	// Slot-table placeholders and terminal markers are not live jobs.
	switch Status(r.Status) {
	case StatusEmpty, StatusSent, StatusCanceled:
		return Job{}, false
	}

	j := Job{
		ID:           r.ID,
		Text:         r.Text,
		WebhookIndex: intField(r.WebhookIndex, 0),
		Kind:         KindScheduled,
		Status:       StatusScheduled,
		CreatedAt:    int64Field(r.CreatedAt, 0),
		SendAt:       int64Field(r.SendAt, 0),
	}
	if r.Kind == string(KindReminder) {
		j.Kind = KindReminder
	}

	if j.ID == "" || j.Text == "" || j.SendAt == 0 {
		return Job{}, false
	}
	return j, true
}

func intField(raw json.RawMessage, def int) int {
	var v int
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return def
	}
	return v
}

func int64Field(raw json.RawMessage, def int64) int64 {
	var v int64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return def
	}
	return v
}
