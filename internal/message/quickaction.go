package message

import (
	"encoding/json"
	"strconv"
	"strings"
)

// QuickActionSlots is the fixed size of the preset grid.
const QuickActionSlots = 9

// QuickAction is a one-tap send preset.
type QuickAction struct {
	Label        string `json:"label"`
	Message      string `json:"message"`
	WebhookIndex int    `json:"webhookIndex"`
}

// NormalizeQuickActions decodes the persisted preset grid. Missing or
// malformed slots become numbered empty presets; the result always has
// exactly QuickActionSlots entries.
func NormalizeQuickActions(raw []byte) [QuickActionSlots]QuickAction {
	var out [QuickActionSlots]QuickAction

	var arr []json.RawMessage
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &arr)
	}

	for i := 0; i < QuickActionSlots; i++ {
		fallback := strconv.Itoa(i + 1)
		out[i] = QuickAction{Label: fallback}
		if i >= len(arr) {
			continue
		}
		var qa QuickAction
		if err := json.Unmarshal(arr[i], &qa); err != nil {
			continue
		}
		label := strings.TrimSpace(qa.Label)
		if label == "" {
			label = fallback
		}
		out[i] = QuickAction{
			Label:        label,
			Message:      strings.TrimSpace(qa.Message),
			WebhookIndex: qa.WebhookIndex,
		}
	}
	return out
}
