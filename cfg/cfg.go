package cfg

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port                  string
	Environment           string
	LogLevel              string
	DatabasePath          string
	RedisURL              string
	RedisTLS              bool
	RedisUsername         string
	RedisPassword         Secret
	RedisTimeout          time.Duration
	LRUCacheSize          int
	PasteCacheTTL         time.Duration
	Argon2Time            uint32
	Argon2Memory          uint32
	Argon2Parallelism     uint8
	Argon2KeyLen          uint32
	HasherWorkerCount     int
	RateLimit             RateLimitCfg
	MaxPasteSize          int64
	TrustedProxies        []string
	MetricsUser           string
	MetricsPass           Secret
	TTLPresets            []time.Duration
	Pepper                Secret
	PepperFromSecrets     bool
	ContextTimeout        time.Duration
	AllowedOrigins        []string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBQueryTimeout        time.Duration
	SecretCacheTTL        time.Duration
	JWT                   JWTCfg
	RefreshTokenTTL       time.Duration
	TokenReplayTTL        time.Duration
	EmailConfirmationTTL  time.Duration
	RequireConfirmedEmail bool
	FrontendURL           string
	SMTP                  SMTPCfg
	MailWorkers           int
	NATS                  NATSCfg
	CleanupInterval       time.Duration
	PprofAddr             string
}

type RateLimitCfg struct {
	RPM               int
	Burst             int
	ConservativeLimit int
	AuthPerMinute     int
}

type JWTCfg struct {
	SigningKey     Secret
	KeyFromSecrets bool
	Issuer         string
	Audience       string
	Expiry         time.Duration
}

type SMTPCfg struct {
	Host     string
	Port     int
	Username string
	Password Secret
	From     string
}

type NATSCfg struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// source resolves a key from the environment first, then from the optional
// CONFIG_FILE, then the fallback.
type source struct {
	file map[string]string
}

func Load() (*Cfg, error) {
	s, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	c := &Cfg{}
	c.Port = s.getEnv("PORT", "8080")
	c.Environment = s.getEnv("ENVIRONMENT", "development")
	c.LogLevel = s.getEnv("LOG_LEVEL", "info")
	c.DatabasePath = s.getEnv("DATABASE_PATH", "pastebin.db")
	c.RedisURL = s.getEnv("REDIS_URL", "")
	c.RedisTLS = s.getBool("REDIS_TLS", false)
	c.RedisUsername = s.getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(s.getEnv("REDIS_PASSWORD", ""))
	if c.RedisTimeout, err = s.getDuration("REDIS_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.LRUCacheSize, err = s.getInt("LRU_CACHE_SIZE", 1000); err != nil {
		return nil, err
	}
	if c.PasteCacheTTL, err = s.getDuration("PASTE_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.Argon2Time, err = s.getUint32("ARGON2_TIME", 4); err != nil {
		return nil, err
	}
	if c.Argon2Memory, err = s.getUint32("ARGON2_MEMORY", 128*1024); err != nil {
		return nil, err
	}
	p, err := s.getUint32("ARGON2_PARALLELISM", 2)
	if err != nil {
		return nil, err
	}
	if p > 255 {
		return nil, errors.New("ARGON2_PARALLELISM must be <= 255")
	}
	c.Argon2Parallelism = uint8(p)
	if c.Argon2KeyLen, err = s.getUint32("ARGON2_KEYLEN", 32); err != nil {
		return nil, err
	}
	if c.HasherWorkerCount, err = s.getInt("HASHER_WORKER_COUNT", 4); err != nil {
		return nil, err
	}
	if c.RateLimit.RPM, err = s.getInt("RATE_LIMIT_RPM", 600); err != nil {
		return nil, err
	}
	if c.RateLimit.Burst, err = s.getInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}
	if c.RateLimit.ConservativeLimit, err = s.getInt("RATE_LIMIT_CONSERVATIVE", 60); err != nil {
		return nil, err
	}
	if c.RateLimit.AuthPerMinute, err = s.getInt("RATE_LIMIT_AUTH_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if c.MaxPasteSize, err = s.getInt64("MAX_PASTE_SIZE", 64*1024); err != nil {
		return nil, err
	}
	c.TrustedProxies = s.getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = s.getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(s.getEnv("METRICS_PASS", ""))
	if c.ContextTimeout, err = s.getDuration("CONTEXT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	for _, p := range s.getSlice("PASTE_TTL_PRESETS", []string{"10m", "1h", "24h", "168h", "720h"}) {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid TTL preset %q: %w", p, err)
		}
		c.TTLPresets = append(c.TTLPresets, d)
	}
	c.Pepper = NewSecret(s.getEnv("ARGON2_PEPPER", ""))
	c.PepperFromSecrets = s.getBool("ARGON2_PEPPER_FROM_SECRETS", false)
	c.AllowedOrigins = s.getSlice("ALLOWED_ORIGINS", []string{})
	if c.DBMaxOpenConns, err = s.getInt("DB_MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if c.DBMaxIdleConns, err = s.getInt("DB_MAX_IDLE_CONNS", 10); err != nil {
		return nil, err
	}
	if c.DBQueryTimeout, err = s.getDuration("DB_QUERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.SecretCacheTTL, err = s.getDuration("SECRET_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}

	c.JWT.SigningKey = NewSecret(s.getEnv("JWT_SIGNING_KEY", ""))
	c.JWT.KeyFromSecrets = s.getBool("JWT_KEY_FROM_SECRETS", false)
	c.JWT.Issuer = s.getEnv("JWT_ISSUER", "pastebin")
	c.JWT.Audience = s.getEnv("JWT_AUDIENCE", "pastebin-clients")
	if c.JWT.Expiry, err = s.getDuration("JWT_EXPIRY", time.Hour); err != nil {
		return nil, err
	}
	if c.RefreshTokenTTL, err = s.getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if c.TokenReplayTTL, err = s.getDuration("TOKEN_REPLAY_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if c.EmailConfirmationTTL, err = s.getDuration("EMAIL_CONFIRMATION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	c.RequireConfirmedEmail = s.getBool("REQUIRE_CONFIRMED_EMAIL", false)
	c.FrontendURL = strings.TrimRight(s.getEnv("FRONTEND_URL", "http://localhost:8080"), "/")

	c.SMTP.Host = s.getEnv("SMTP_HOST", "")
	if c.SMTP.Port, err = s.getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	c.SMTP.Username = s.getEnv("SMTP_USERNAME", "")
	c.SMTP.Password = NewSecret(s.getEnv("SMTP_PASSWORD", ""))
	c.SMTP.From = s.getEnv("SMTP_FROM", "no-reply@pastebin.local")
	if c.MailWorkers, err = s.getInt("MAIL_WORKERS", 2); err != nil {
		return nil, err
	}

	c.NATS.URL = s.getEnv("NATS_URL", "")
	if c.NATS.MaxReconnects, err = s.getInt("NATS_MAX_RECONNECTS", 10); err != nil {
		return nil, err
	}
	if c.NATS.ReconnectWait, err = s.getDuration("NATS_RECONNECT_WAIT", 2*time.Second); err != nil {
		return nil, err
	}
	if c.CleanupInterval, err = s.getDuration("CLEANUP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	c.PprofAddr = s.getEnv("PPROF_ADDR", "")
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}

	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.DatabasePath != ":memory:" {
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		absWorkDir, err := filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		absDBPath, err := filepath.Abs(c.DatabasePath)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PATH: %w", err)
		}
		if !strings.HasPrefix(absDBPath, absWorkDir+string(filepath.Separator)) && absDBPath != absWorkDir {
			return fmt.Errorf("DATABASE_PATH must be within working directory %s", absWorkDir)
		}
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.NATS.URL != "" {
		if _, err := url.Parse(c.NATS.URL); err != nil {
			return fmt.Errorf("invalid NATS_URL: %w", err)
		}
	}

	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.Environment == "production" {
		if c.Argon2Time < 4 {
			return errors.New("ARGON2_TIME must be >= 4")
		}
		if c.Argon2Memory < 128*1024 {
			return errors.New("ARGON2_MEMORY must be >= 131072 (128MB)")
		}
	} else if c.Argon2Time < 1 || c.Argon2Memory < 1024 {
		return errors.New("ARGON2_TIME must be >= 1 and ARGON2_MEMORY >= 1024")
	}
	if c.Argon2Parallelism < 1 {
		return errors.New("ARGON2_PARALLELISM must be at least 1")
	}
	if c.Argon2KeyLen < 32 {
		return errors.New("ARGON2_KEYLEN must be >= 32")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.AuthPerMinute <= 0 {
		return errors.New("RATE_LIMIT_AUTH_PER_MINUTE must be positive")
	}

	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if len(c.TTLPresets) == 0 {
		return errors.New("PASTE_TTL_PRESETS must list at least one duration")
	}
	for _, d := range c.TTLPresets {
		if d < time.Minute {
			return fmt.Errorf("PASTE_TTL_PRESETS entry %s is below 1 minute", d)
		}
	}

	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return errors.New("JWT_ISSUER and JWT_AUDIENCE are required")
	}
	if c.JWT.Expiry < time.Minute || c.JWT.Expiry > 24*time.Hour {
		return errors.New("JWT_EXPIRY must be between 1m and 24h")
	}
	if !c.JWT.KeyFromSecrets && len(c.JWT.SigningKey.Value()) < 32 {
		return errors.New("JWT_SIGNING_KEY must be at least 32 bytes")
	}
	if c.RefreshTokenTTL < time.Hour {
		return errors.New("REFRESH_TOKEN_TTL must be at least 1 hour")
	}
	if c.TokenReplayTTL < c.RefreshTokenTTL {
		return errors.New("TOKEN_REPLAY_TTL must cover REFRESH_TOKEN_TTL")
	}
	if c.EmailConfirmationTTL < 5*time.Minute {
		return errors.New("EMAIL_CONFIRMATION_TTL must be at least 5 minutes")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}

	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	if !c.PepperFromSecrets {
		if len(c.Pepper.Value()) == 0 {
			return errors.New("ARGON2_PEPPER is required if ARGON2_PEPPER_FROM_SECRETS is false")
		}
		if len(c.Pepper.Value()) < 32 {
			return errors.New("ARGON2_PEPPER must be at least 32 bytes")
		}
	}
	if c.SecretCacheTTL < 1*time.Minute {
		return errors.New("SECRET_CACHE_TTL must be at least 1 minute")
	}
	if c.SecretCacheTTL > 1*time.Hour {
		return errors.New("SECRET_CACHE_TTL should not exceed 1 hour")
	}
	if c.CleanupInterval < time.Minute {
		return errors.New("CLEANUP_INTERVAL must be at least 1 minute")
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
	c.JWT.SigningKey.Wipe()
	c.SMTP.Password.Wipe()
}

// newSource reads a flat YAML map of KEY: value pairs. Lists are joined with
// commas so they parse like their env counterparts.
func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read CONFIG_FILE")
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse CONFIG_FILE")
	}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			s.file[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			s.file[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return s, nil
}
func (s *source) getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	if v, ok := s.file[key]; ok {
		return v
	}
	return fallback
}
func (s *source) getBool(key string, fallback bool) bool {
	v := strings.ToLower(s.getEnv(key, ""))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}
func (s *source) getInt(key string, fallback int) (int, error) {
	v := s.getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}
func (s *source) getInt64(key string, fallback int64) (int64, error) {
	v := s.getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}
func (s *source) getUint32(key string, fallback uint32) (uint32, error) {
	v := s.getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uint32 for %s: %w", key, err)
	}
	return uint32(n), nil
}
func (s *source) getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
func (s *source) getSlice(key string, fallback []string) []string {
	v := s.getEnv(key, "")
	if v == "" {
		return fallback
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
