package lim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"pastebin/metrics"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	adaptiveWindow  = 60 * time.Second
)

// Counter is a shared fixed-window counter, normally Redis.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Config struct {
	RPM               int
	Burst             int
	ConservativeLimit int
	TrustedProxies    []string
}

// Limiter enforces a per-client, per-endpoint request budget. With a shared
// counter the budget holds across instances; without one, or when it fails,
// each instance falls back to token buckets at the conservative limit.
type Limiter struct {
	counter           Counter
	cfg               Config
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	localLimiters     map[string]*limiterEntry
	mu                sync.Mutex
	quit              chan struct{}
	stopOnce          sync.Once
	evictionSem       chan struct{}
	log               zerolog.Logger
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func ValidateProxies(trustedProxies []string) error {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in trusted proxies: %s: %w", proxy, err)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in trusted proxies: %s", proxy)
		}
	}
	return nil
}

// New starts the cleanup loop and the anomaly detector. counter may be nil.
func New(c Config, counter Counter, log zerolog.Logger) (*Limiter, error) {
	if err := ValidateProxies(c.TrustedProxies); err != nil {
		return nil, err
	}
	if c.ConservativeLimit <= 0 {
		c.ConservativeLimit = c.RPM
	}
	if c.Burst <= 0 {
		c.Burst = c.ConservativeLimit
	}
	l := &Limiter{
		counter:       counter,
		cfg:           c,
		localLimiters: make(map[string]*limiterEntry),
		quit:          make(chan struct{}),
		evictionSem:   make(chan struct{}, 1),
		log:           log,
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode, log)
	l.detector.Start()
	go l.cleanupLoop()
	return l, nil
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpiredLimiters()
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) evictExpiredLimiters() {
	now := time.Now()
	l.mu.Lock()
	evicted := 0
	for key, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.localLimiters, key)
			evicted++
		}
	}
	remaining := len(l.localLimiters)
	l.mu.Unlock()
	if evicted > 0 {
		l.log.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
	})
}

// TriggerAdaptiveMode halves every limit for the next minute.
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(adaptiveWindow).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	return time.Now().Unix() < atomic.LoadInt64(&l.adaptiveModeUntil)
}
func (l *Limiter) RecordRequest() { l.detector.RecordRequest() }
func (l *Limiter) RecordError()   { l.detector.RecordError() }

func halve(n int) int {
	if n /= 2; n < 1 {
		return 1
	}
	return n
}

// Check counts one request from r against endpoint.
func (l *Limiter) Check(r *http.Request, endpoint string) Result {
	ip := GetRealIP(r, l.cfg.TrustedProxies)
	res := l.check(r.Context(), ip, endpoint)
	if !res.Allowed {
		metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
	}
	return res
}
func (l *Limiter) check(ctx context.Context, ip, endpoint string) Result {
	if l.counter == nil {
		return l.local(ip, endpoint)
	}
	limit := l.cfg.RPM
	if l.isAdaptiveMode() {
		limit = halve(limit)
	}
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	// the shared counter stops at its cap, so cap at limit+1 to tell the
	// last allowed request apart from the first rejected one
	usage, err := l.counter.RateLimit(ctx, "rl:"+endpoint+":"+ip, limit+1, time.Minute)
	if err != nil {
		l.log.Warn().Err(err).Msg("shared rate limit unavailable, using local fallback")
		return l.local(ip, endpoint)
	}
	reset := time.Now().Add(time.Minute)
	if usage > limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - usage, Reset: reset}
}
func (l *Limiter) local(ip, endpoint string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.localLimiters) >= (maxLimiters*9)/10 {
		if toEvict := len(l.localLimiters) / 10; toEvict > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.asyncEvictOldest(toEvict)
				}()
			default:
			}
		}
	}
	reset := time.Now().Add(time.Minute)
	if len(l.localLimiters) >= maxLimiters {
		l.log.Warn().Int("limiters", len(l.localLimiters)).Msg("rate limiter at capacity, rejecting request")
		return Result{Allowed: false, Limit: l.cfg.ConservativeLimit, Reset: reset}
	}
	limit, burst := l.cfg.ConservativeLimit, l.cfg.Burst
	if l.isAdaptiveMode() {
		limit, burst = halve(limit), halve(burst)
	}
	key := ip + ":" + endpoint
	entry, exists := l.localLimiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(limit)/60.0, burst)}
		l.localLimiters[key] = entry
	}
	entry.lastAccess = time.Now()
	if !entry.limiter.Allow() {
		return Result{Allowed: false, Limit: limit, Reset: reset}
	}
	remaining := int(entry.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, Reset: reset}
}
func (l *Limiter) asyncEvictOldest(count int) {
	l.mu.Lock()
	if len(l.localLimiters) < (maxLimiters*8)/10 {
		l.mu.Unlock()
		return
	}
	type kv struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]kv, 0, len(l.localLimiters))
	for k, v := range l.localLimiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, exists := l.localLimiters[entries[i].key]; exists {
			delete(l.localLimiters, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		l.log.Debug().Int("evicted", evicted).Msg("async limiter eviction completed")
	}
}

// GetRealIP walks X-Forwarded-For from the right and returns the first
// address that is not a trusted proxy. Without trusted proxies the header is
// ignored.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	const maxIPsToParse = 100
	parsed := 0
	remaining := xff
	for len(remaining) > 0 && parsed < maxIPsToParse {
		var ipStr string
		if i := strings.LastIndexByte(remaining, ','); i == -1 {
			ipStr, remaining = strings.TrimSpace(remaining), ""
		} else {
			ipStr, remaining = strings.TrimSpace(remaining[i+1:]), remaining[:i]
		}
		if ipStr == "" {
			continue
		}
		parsed++
		if net.ParseIP(ipStr) == nil {
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	parsedIP := net.ParseIP(ip)
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			_, subnet, err := net.ParseCIDR(proxy)
			if err == nil && parsedIP != nil && subnet.Contains(parsedIP) {
				return true
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
