package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileValuesUnderEnv(t *testing.T) {
	path := writeConfigFile(t, `
PORT: 9090
LOG_LEVEL: debug
ALLOWED_ORIGINS:
  - https://a.example
  - https://b.example
JWT_EXPIRY: 30m
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != "9090" {
		t.Errorf("Port = %q, want 9090 from file", c.Port)
	}
	if c.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, env should win over file", c.LogLevel)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", c.AllowedOrigins)
	}
	if c.JWT.Expiry != 30*time.Minute {
		t.Errorf("JWT.Expiry = %s", c.JWT.Expiry)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_EXPIRY", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validCfg() *Cfg {
	return &Cfg{
		Port:                 "8080",
		Environment:          "test",
		DatabasePath:         ":memory:",
		LRUCacheSize:         10,
		Argon2Time:           1,
		Argon2Memory:         1024,
		Argon2Parallelism:    1,
		Argon2KeyLen:         32,
		RateLimit:            RateLimitCfg{RPM: 60, AuthPerMinute: 5},
		MaxPasteSize:         1024,
		TTLPresets:           []time.Duration{time.Hour},
		Pepper:               NewSecret(strings.Repeat("p", 32)),
		JWT:                  JWTCfg{SigningKey: NewSecret(strings.Repeat("k", 32)), Issuer: "i", Audience: "a", Expiry: time.Hour},
		RefreshTokenTTL:      7 * 24 * time.Hour,
		TokenReplayTTL:       7 * 24 * time.Hour,
		EmailConfirmationTTL: 24 * time.Hour,
		SecretCacheTTL:       10 * time.Minute,
		CleanupInterval:      10 * time.Minute,
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(validCfg()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(c *Cfg)
	}{
		{"short jwt key", func(c *Cfg) { c.JWT.SigningKey = NewSecret("short") }},
		{"short pepper", func(c *Cfg) { c.Pepper = NewSecret("short") }},
		{"bad redis url", func(c *Cfg) { c.RedisURL = "http://localhost" }},
		{"weak argon2 in production", func(c *Cfg) {
			c.Environment = "production"
			c.MetricsUser = "m"
			c.MetricsPass = NewSecret("p")
		}},
		{"replay ttl below refresh ttl", func(c *Cfg) { c.TokenReplayTTL = time.Hour }},
		{"tiny ttl preset", func(c *Cfg) { c.TTLPresets = []time.Duration{time.Second} }},
		{"bad trusted proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg()
			tt.mutate(c)
			if err := Validate(c); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestJWTKeyFromSecretsSkipsLengthCheck(t *testing.T) {
	c := validCfg()
	c.JWT.SigningKey = NewSecret("")
	c.JWT.KeyFromSecrets = true
	if err := Validate(c); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSecretRedacted(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() == "hunter2" {
		t.Error("secret printed in clear")
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("secret not wiped")
	}
}
