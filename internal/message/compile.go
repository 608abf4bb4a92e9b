// Package message compiles outgoing message bodies and holds the quick
// action presets.
package message

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxMinutes and MaxSeconds bound the countdown offset inputs.
	MaxMinutes = 999
	MaxSeconds = 59
)

// ClampInt saturates v into [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RelativeToken renders the platform relative-timestamp token for an
// instant offset seconds from now: <t:UNIX:R>.
func RelativeToken(now time.Time, offset time.Duration) string {
	return fmt.Sprintf("<t:%d:R>", now.Add(offset).Unix())
}

// Compile joins the trimmed text with an optional countdown token.
//
// The token is only appended when requested and the clamped offset is
// positive. An empty text with no token compiles to "".
func Compile(text string, minutes, seconds int, includeToken bool, now time.Time) string {
	text = strings.TrimSpace(text)
	minutes = ClampInt(minutes, 0, MaxMinutes)
	seconds = ClampInt(seconds, 0, MaxSeconds)

	offset := time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	if !includeToken || offset <= 0 {
		return text
	}

	token := RelativeToken(now, offset)
	if text == "" {
		return token
	}
	return text + " " + token
}

// ReminderText is the body of the system-generated follow-up scheduled
// after a send-now.
func ReminderText(raw string) string {
	return "@everyone Reminder: " + strings.TrimSpace(raw)
}
