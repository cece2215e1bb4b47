package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"pastebin/cfg"
	"pastebin/pkg/domain"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	pasteKeyPrefix     = "paste:"
	usedTokenKeyPrefix = "used_refresh:"
)

var rateLimitScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end
	if current >= tonumber(ARGV[2]) then
		return current
	end
	local new_val = redis.call("INCR", KEYS[1])
	if new_val == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return new_val
`)

// Redis is the shared second-level paste cache and the refresh token
// replay log.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(c.Environment)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	timeout := c.RedisTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{client: client, timeout: timeout}, nil
}

func buildRedisTLSConfig(env string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
	}
	redisHostname := os.Getenv("REDIS_HOSTNAME")
	if redisHostname == "" {
		return nil, fmt.Errorf("REDIS_HOSTNAME must be set when REDIS_TLS=true")
	}
	tlsConfig.ServerName = redisHostname
	if certPath := os.Getenv("REDIS_TLS_CA_CERT"); certPath != "" {
		pool, err := loadCertPool(x509.NewCertPool(), certPath)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		tlsConfig.RootCAs = systemPool
	}
	if devCertPath := os.Getenv("REDIS_TLS_DEV_CA"); env != "production" && devCertPath != "" {
		pool, err := loadCertPool(tlsConfig.RootCAs, devCertPath)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
func loadCertPool(pool *x509.CertPool, path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert %s: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to append CA cert %s", path)
	}
	return pool, nil
}

// CachePaste stores the paste with its password hash so private access can
// be checked on a hit.
func (r *Redis) CachePaste(ctx context.Context, p *domain.Paste, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(domain.NewCachedPaste(p))
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return errors.Wrap(r.client.Set(ctx, pasteKeyPrefix+p.ID, data, ttl).Err(), "set paste")
}

// GetPaste returns nil, nil on a miss.
func (r *Redis) GetPaste(ctx context.Context, id string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, pasteKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	var cp domain.CachedPaste
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, "unmarshal paste")
	}
	return cp.Unwrap(), nil
}
func (r *Redis) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pasteKeyPrefix + id
	}
	return errors.Wrap(r.client.Del(ctx, keys...).Err(), "delete pastes")
}

// RateLimit counts a hit against key in a fixed window and returns the usage.
// The counter stops at limit so a flood does not grow it.
func (r *Redis) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	usage, err := rateLimitScript.Run(ctx, r.client, []string{key}, int(window.Milliseconds()), limit).Int()
	if err != nil {
		return 0, errors.Wrap(err, "rate limit lua")
	}
	return usage, nil
}

// MarkUsed records a rotated refresh token hash for ttl.
func (r *Redis) MarkUsed(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if tokenHash == "" {
		return errors.New("token hash cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Set(ctx, usedTokenKeyPrefix+tokenHash, "1", ttl).Err(), "mark token used")
}
func (r *Redis) IsUsed(ctx context.Context, tokenHash string) (bool, error) {
	if tokenHash == "" {
		return false, errors.New("token hash cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.client.Exists(ctx, usedTokenKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, errors.Wrap(err, "check used token")
	}
	return n > 0, nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
