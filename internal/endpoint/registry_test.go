package endpoint

import (
	"strings"
	"testing"
)

func TestNormalizeShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Table
	}{
		{
			name: "legacy string slots",
			raw:  `["https://discord.com/api/webhooks/1/a", " https://discord.com/api/webhooks/2/b "]`,
			want: Table{
				{URL: "https://discord.com/api/webhooks/1/a"},
				{URL: "https://discord.com/api/webhooks/2/b"},
			},
		},
		{
			name: "object slots",
			raw:  `[{"name":" ops ","url":"https://discord.com/api/webhooks/1/a"}]`,
			want: Table{{Name: "ops", URL: "https://discord.com/api/webhooks/1/a"}},
		},
		{
			name: "mixed junk slots",
			raw:  `[42, null, "https://discord.com/api/webhooks/3/c", [], {"url":"x"}]`,
			want: Table{2: {URL: "https://discord.com/api/webhooks/3/c"}, 4: {URL: "x"}},
		},
		{name: "not an array", raw: `{"webhooks":true}`, want: Table{}},
		{name: "empty input", raw: ``, want: Table{}},
		{name: "null", raw: `null`, want: Table{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize([]byte(tt.raw))
			if got != tt.want {
				t.Fatalf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeOversizedInput(t *testing.T) {
	t.Parallel()
	raw := `["a","b","c","d","e","f","g"]`
	got := Normalize([]byte(raw))
	if got[4].URL != "e" {
		t.Fatalf("slot 4 = %q, want e", got[4].URL)
	}
	// Extra elements beyond the fixed size are dropped.
	for i := range got {
		if i < Slots && got[i].URL == "f" {
			t.Fatalf("overflow element leaked into slot %d", i)
		}
	}
}

func TestValidateURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url string
		ok  bool
	}{
		{"", true},
		{"https://discord.com/api/webhooks/1/x", true},
		{"https://discordapp.com/api/webhooks/9/z", true},
		{"http://example.com/x", false},
		{"http://discord.com/api/webhooks/1/x", false},
		{"https://example.com/api/webhooks/1/x", false},
		{"https://discord.com/other/path", false},
		{"::not a url::", false},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.ok && err != nil {
			t.Fatalf("ValidateURL(%q) = %v, want nil", tt.url, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("ValidateURL(%q) = nil, want error", tt.url)
		}
	}
}

func TestValidateNamesOffendingSlot(t *testing.T) {
	t.Parallel()
	var tbl Table
	tbl[2].URL = "http://example.com/x"
	err := tbl.Validate()
	if err == nil {
		t.Fatal("expected error for invalid slot")
	}
	if want := "webhook 3"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q does not name slot: want substring %q", err, want)
	}
}

func TestClampIndex(t *testing.T) {
	t.Parallel()
	if ClampIndex(-3) != 0 {
		t.Fatal("negative index should clamp to 0")
	}
	if ClampIndex(99) != Slots-1 {
		t.Fatal("oversized index should clamp to last slot")
	}
	if ClampIndex(2) != 2 {
		t.Fatal("in-range index should pass through")
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	var tbl Table
	tbl[1].Name = "alerts"
	if got := tbl.Label(1); got != "alerts" {
		t.Fatalf("Label(1) = %q", got)
	}
	if got := tbl.Label(0); got != "Webhook 1" {
		t.Fatalf("Label(0) = %q", got)
	}
	if got := tbl.Label(42); got != "Webhook 5" {
		t.Fatalf("Label(42) = %q", got)
	}
}
