package util

import (
	"testing"
	"time"
)

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		dur      time.Duration
		expected string
	}{
		{time.Second * 5, "5 seconds"},
		{time.Second * 65, "1 minute, 5 seconds"},
		{time.Second * 3665, "1 hour, 1 minute, 5 seconds"},
		{time.Second * 3600, "1 hour, 0 minutes, 0 seconds"},
		{time.Second * 60, "1 minute, 0 seconds"},
		{time.Second * 1, "1 second"},
	}
	for _, c := range cases {
		got := FormatUptime(c.dur)
		if got != c.expected {
			t.Errorf("FormatUptime(%v) = %q, want %q", c.dur, got, c.expected)
		}
	}
}

func TestPlural(t *testing.T) {
	if plural(1) != "" {
		t.Errorf("plural(1) = %q, want \"\"", plural(1))
	}
	if plural(2) != "s" {
		t.Errorf("plural(2) = %q, want \"s\"", plural(2))
	}
	if plural(0) != "s" {
		t.Errorf("plural(0) = %q, want \"s\"", plural(0))
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "2s")
	if got := GetEnvDuration("TEST_DURATION", time.Second); got != 2*time.Second {
		t.Errorf("GetEnvDuration = %v, want 2s", got)
	}
	t.Setenv("TEST_DURATION", "notaduration")
	if got := GetEnvDuration("TEST_DURATION", 3*time.Second); got != 3*time.Second {
		t.Errorf("GetEnvDuration fallback = %v, want 3s", got)
	}
	t.Setenv("TEST_DURATION", "")
	if got := GetEnvDuration("TEST_DURATION", 4*time.Second); got != 4*time.Second {
		t.Errorf("GetEnvDuration fallback unset = %v, want 4s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := GetEnvInt("TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}
	t.Setenv("TEST_INT", "notanint")
	if got := GetEnvInt("TEST_INT", 8); got != 8 {
		t.Errorf("GetEnvInt fallback = %d, want 8", got)
	}
	t.Setenv("TEST_INT", "")
	if got := GetEnvInt("TEST_INT", 9); got != 9 {
		t.Errorf("GetEnvInt fallback unset = %d, want 9", got)
	}
}

func TestGetEnvBoolAndString(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if GetEnvBool("TEST_BOOL", true) {
		t.Error("GetEnvBool = true, want false")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !GetEnvBool("TEST_BOOL", true) {
		t.Error("GetEnvBool fallback = false, want true")
	}
	t.Setenv("TEST_STRING", "  value ")
	if got := GetEnvString("TEST_STRING", "x"); got != "value" {
		t.Errorf("GetEnvString = %q, want %q", got, "value")
	}
	t.Setenv("TEST_STRING", "")
	if got := GetEnvString("TEST_STRING", "x"); got != "x" {
		t.Errorf("GetEnvString fallback = %q, want %q", got, "x")
	}
}
