package test

import (
	"os"
	"testing"
)

func TestEnvLoading(t *testing.T) {
	if err := loadTestEnv(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		key      string
		expected string
	}{
		{"ENVIRONMENT", "test"},
		{"ARGON2_PEPPER", "0123456789ABCDEF0123456789ABCDEF"},
		{"SECRETS_LOCAL_KEY", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="},
	}
	for _, tt := range tests {
		if got := os.Getenv(tt.key); got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.expected)
		}
	}

	c := createTestConfig(t)
	t.Logf("hasher workers: %d, argon2 time/memory: %d/%d", c.HasherWorkerCount, c.Argon2Time, c.Argon2Memory)
	if len(c.TTLPresets) != 3 {
		t.Errorf("TTL presets = %v", c.TTLPresets)
	}
	if c.RateLimit.AuthPerMinute < 1000 {
		t.Errorf("auth throttle %d would trip integration tests", c.RateLimit.AuthPerMinute)
	}
}
