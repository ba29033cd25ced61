package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"ON", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"off", false},
	}
	for _, tc := range cases {
		t.Setenv("VOICEFLOW_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("VOICEFLOW_TEST_BOOL", !tc.want); got != tc.want {
			t.Errorf("ParseBoolEnv(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}

	t.Setenv("VOICEFLOW_TEST_BOOL", "maybe")
	if !ParseBoolEnv("VOICEFLOW_TEST_BOOL", true) {
		t.Error("invalid value must fall back to default")
	}
	if ParseBoolEnv("VOICEFLOW_TEST_BOOL_UNSET", false) {
		t.Error("unset variable must return default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("VOICEFLOW_TEST_INT", "25")
	if got := ParseIntEnv("VOICEFLOW_TEST_INT", 10); got != 25 {
		t.Errorf("ParseIntEnv = %d, want 25", got)
	}
	t.Setenv("VOICEFLOW_TEST_INT", "not-a-number")
	if got := ParseIntEnv("VOICEFLOW_TEST_INT", 10); got != 10 {
		t.Errorf("invalid value returned %d, want default 10", got)
	}
	if got := ParseIntEnv("VOICEFLOW_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("unset variable returned %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("VOICEFLOW_TEST_DUR", "500ms")
	if got := ParseDurationEnv("VOICEFLOW_TEST_DUR", time.Second); got != 500*time.Millisecond {
		t.Errorf("ParseDurationEnv = %v, want 500ms", got)
	}
	t.Setenv("VOICEFLOW_TEST_DUR", "soon")
	if got := ParseDurationEnv("VOICEFLOW_TEST_DUR", 2*time.Second); got != 2*time.Second {
		t.Errorf("invalid value returned %v, want default 2s", got)
	}
}
