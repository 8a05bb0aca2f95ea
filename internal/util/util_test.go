package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"off", true, false},
		{"0", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, c := range cases {
		t.Setenv("CHATTERBOX_TEST_BOOL", c.value)
		if got := ParseBoolEnv("CHATTERBOX_TEST_BOOL", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CHATTERBOX_TEST_DUR", "45s")
	if got := ParseDurationEnv("CHATTERBOX_TEST_DUR", time.Minute); got != 45*time.Second {
		t.Errorf("got %v, want 45s", got)
	}
	t.Setenv("CHATTERBOX_TEST_DUR", "not-a-duration")
	if got := ParseDurationEnv("CHATTERBOX_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("invalid value should return default, got %v", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("CHATTERBOX_TEST_INT", "1500")
	if got := ParseIntEnv("CHATTERBOX_TEST_INT", 10); got != 1500 {
		t.Errorf("got %d, want 1500", got)
	}
	t.Setenv("CHATTERBOX_TEST_INT", "abc")
	if got := ParseIntEnv("CHATTERBOX_TEST_INT", 10); got != 10 {
		t.Errorf("invalid value should return default, got %d", got)
	}
}

func TestGenerateRandomHex(t *testing.T) {
	h := GenerateRandomHex(32)
	if len(h) != 32 {
		t.Fatalf("expected 32 chars, got %d", len(h))
	}
	for _, c := range h {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("non-hex character %q in %q", c, h)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should produce empty string")
	}
}

func TestGenerateUserID(t *testing.T) {
	id := GenerateUserID()
	if len(id) != 34 || id[:2] != "u_" {
		t.Errorf("unexpected user id format: %q", id)
	}
	if id == GenerateUserID() {
		t.Error("two generated ids should differ")
	}
}
