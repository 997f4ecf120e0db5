package phone

import (
	"strings"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(480) 555-1234", "+14805551234"},
		{"+14805551234", "+14805551234"},
		{"  +14805551234  ", "+14805551234"},
		{"not a phone", "not a phone"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := NormalizeE164(tc.input); got != tc.want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMaskKeepsOnlyLastTwoDigits(t *testing.T) {
	got := Mask("+14805551234")
	if !strings.HasSuffix(got, "34") {
		t.Errorf("Mask should keep last two digits, got %q", got)
	}
	if strings.Contains(got, "480555") {
		t.Errorf("Mask leaked digits: %q", got)
	}
	if len(got) != len("+14805551234") {
		t.Errorf("Mask should preserve length, got %q", got)
	}
}

func TestMaskEmpty(t *testing.T) {
	if got := Mask(""); got != "" {
		t.Errorf("Mask(\"\") = %q, want empty", got)
	}
}
