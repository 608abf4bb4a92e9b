// Package endpoint holds the fixed table of outbound webhook destinations.
//
// The table always has exactly 5 slots. A slot with an empty URL is
// intentionally unset; it still occupies its position so indexes stay stable.
package endpoint

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Slots is the fixed size of the endpoint table.
const Slots = 5

type Endpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Table is index-addressed (0..4). Slots are cleared, never removed.
type Table [Slots]Endpoint

// ClampIndex saturates i into the valid slot range. Out-of-range indexes
// are a normal occurrence (stale persisted state), not an error.
func ClampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i >= Slots {
		return Slots - 1
	}
	return i
}

// Normalize decodes a persisted endpoint table of any known generation.
//
// Accepted element shapes per slot:
//   - bare URL string (legacy format)
//   - {name, url} object
//   - anything else -> empty slot
//
// Malformed input degrades to an all-empty table; Normalize never fails.
func Normalize(raw []byte) Table {
	var t Table
	if len(raw) == 0 {
		return t
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return t
	}

	for i := 0; i < Slots && i < len(arr); i++ {
		var s string
		if err := json.Unmarshal(arr[i], &s); err == nil {
			t[i] = Endpoint{URL: strings.TrimSpace(s)}
			continue
		}
		var e Endpoint
		if err := json.Unmarshal(arr[i], &e); err == nil {
			t[i] = Endpoint{Name: strings.TrimSpace(e.Name), URL: strings.TrimSpace(e.URL)}
		}
	}
	return t
}

// URL returns the trimmed destination URL for a clamped index ("" if unset).
func (t Table) URL(i int) string {
	return strings.TrimSpace(t[ClampIndex(i)].URL)
}

// Label returns the display name for a slot, falling back to "Webhook N".
func (t Table) Label(i int) string {
	i = ClampIndex(i)
	if name := strings.TrimSpace(t[i].Name); name != "" {
		return name
	}
	return fmt.Sprintf("Webhook %d", i+1)
}

var allowedHosts = map[string]bool{
	"discord.com":    true,
	"discordapp.com": true,
}

const requiredPathPrefix = "/api/webhooks/"

// ValidateURL checks a single destination URL.
// Empty is valid: it marks a slot as intentionally unset.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("scheme must be https, got %q", u.Scheme)
	}
	if !allowedHosts[u.Hostname()] {
		return fmt.Errorf("host %q is not a known webhook host", u.Hostname())
	}
	if !strings.HasPrefix(u.Path, requiredPathPrefix) {
		return fmt.Errorf("path must start with %s", requiredPathPrefix)
	}
	return nil
}

// Validate checks every slot and reports the first offender by its 1-based
// position. A table is saved all-or-nothing: one bad slot rejects the save.
func (t Table) Validate() error {
	for i := range t {
		if err := ValidateURL(t[i].URL); err != nil {
			return fmt.Errorf("webhook %d: %w", i+1, err)
		}
	}
	return nil
}
