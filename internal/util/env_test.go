package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("MEDTRIAGE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("MEDTRIAGE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("MEDTRIAGE_TEST_FLOAT", "0.45")
	if got := ParseFloatEnv("MEDTRIAGE_TEST_FLOAT", 0.3); got != 0.45 {
		t.Errorf("got %v, want 0.45", got)
	}
	t.Setenv("MEDTRIAGE_TEST_FLOAT", "high")
	if got := ParseFloatEnv("MEDTRIAGE_TEST_FLOAT", 0.3); got != 0.3 {
		t.Errorf("invalid value should fall back, got %v", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("MEDTRIAGE_TEST_INT", "42")
	if got := ParseIntEnv("MEDTRIAGE_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("MEDTRIAGE_TEST_INT", "4.2")
	if got := ParseIntEnv("MEDTRIAGE_TEST_INT", 7); got != 7 {
		t.Errorf("invalid value should fall back, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"15m", 15 * time.Minute},
		{"10", 10 * time.Second},
		{"soon", time.Minute},
		{"-5s", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("MEDTRIAGE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("MEDTRIAGE_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetenvDefault(t *testing.T) {
	t.Setenv("MEDTRIAGE_TEST_STR", "  ")
	if got := GetenvDefault("MEDTRIAGE_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("blank value should fall back, got %q", got)
	}
	t.Setenv("MEDTRIAGE_TEST_STR", "value")
	if got := GetenvDefault("MEDTRIAGE_TEST_STR", "fallback"); got != "value" {
		t.Errorf("got %q", got)
	}
}
