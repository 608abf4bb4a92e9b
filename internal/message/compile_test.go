package message

import (
	"fmt"
	"testing"
	"time"
)

func TestCompile(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		text    string
		min     int
		sec     int
		include bool
		want    string
	}{
		{"plain text", " hello ", 0, 0, false, "hello"},
		{"token appended", "hi", 1, 30, true, fmt.Sprintf("hi <t:%d:R>", now.Unix()+90)},
		{"token alone", "", 0, 10, true, fmt.Sprintf("<t:%d:R>", now.Unix()+10)},
		{"zero offset suppresses token", "hi", 0, 0, true, "hi"},
		{"not requested", "hi", 5, 0, false, "hi"},
		{"minutes clamp high", "x", 5000, 0, true, fmt.Sprintf("x <t:%d:R>", now.Unix()+int64(MaxMinutes)*60)},
		{"seconds clamp high", "x", 0, 200, true, fmt.Sprintf("x <t:%d:R>", now.Unix()+MaxSeconds)},
		{"negative clamps to zero", "x", -5, -5, true, "x"},
		{"empty everything", "  ", 0, 0, true, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Compile(tt.text, tt.min, tt.sec, tt.include, now)
			if got != tt.want {
				t.Fatalf("Compile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReminderText(t *testing.T) {
	t.Parallel()
	if got := ReminderText(" standup "); got != "@everyone Reminder: standup" {
		t.Fatalf("ReminderText = %q", got)
	}
}

func TestNormalizeQuickActions(t *testing.T) {
	t.Parallel()
	raw := `[{"label":" deploy ","message":" ship it ","webhookIndex":2}, "junk", {"message":"no label"}]`
	got := NormalizeQuickActions([]byte(raw))

	if got[0].Label != "deploy" || got[0].Message != "ship it" || got[0].WebhookIndex != 2 {
		t.Fatalf("slot 0 = %+v", got[0])
	}
	if got[1].Label != "2" || got[1].Message != "" {
		t.Fatalf("junk slot 1 = %+v", got[1])
	}
	if got[2].Label != "3" || got[2].Message != "no label" {
		t.Fatalf("slot 2 = %+v", got[2])
	}
	for i := 3; i < QuickActionSlots; i++ {
		if got[i].Label != fmt.Sprint(i+1) || got[i].Message != "" {
			t.Fatalf("slot %d = %+v", i, got[i])
		}
	}
}

func TestNormalizeQuickActionsMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{``, `null`, `{"a":1}`, `[[[`} {
		got := NormalizeQuickActions([]byte(raw))
		if got[0].Label != "1" || got[8].Label != "9" {
			t.Fatalf("Normalize(%q) = %+v", raw, got)
		}
	}
}
