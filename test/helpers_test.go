package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/api"
	"pastebin/svc/auth"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/lim"
	"pastebin/svc/mail"
	"pastebin/svc/svc"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var (
	envLoadOnce sync.Once
	envLoadErr  error
)

func loadTestEnv() error {
	envLoadOnce.Do(func() {
		for _, p := range []string{".env.test", "../.env.test"} {
			if abs, err := filepath.Abs(p); err == nil {
				if _, err := os.Stat(abs); err == nil {
					envLoadErr = godotenv.Load(abs)
					return
				}
			}
		}
		envLoadErr = fmt.Errorf(".env.test not found")
	})
	return envLoadErr
}

func createTestConfig(t *testing.T) *cfg.Cfg {
	t.Helper()
	if err := loadTestEnv(); err != nil {
		t.Fatalf("load test env: %v", err)
	}
	c, err := cfg.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(c); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	c.DatabasePath = filepath.Join(t.TempDir(), "pastebin.db")
	return c
}

// captureSender keeps every delivered message so tests can follow links.
type captureSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *captureSender) Send(_ context.Context, m mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}
func (s *captureSender) waitFor(t *testing.T, to string) mail.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for i := len(s.sent) - 1; i >= 0; i-- {
			if s.sent[i].To == to {
				m := s.sent[i]
				s.mu.Unlock()
				return m
			}
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no mail to %s", to)
	return mail.Message{}
}

// stack is the whole service wired the way main wires it, minus Redis and
// NATS, behind an httptest server.
type stack struct {
	t        *testing.T
	cfg      *cfg.Cfg
	db       *db.SQLite
	lru      *cache.LRU
	services *svc.Services
	deps     svc.Deps
	events   *events.Recorder
	mail     *captureSender
	ts       *httptest.Server
	client   *http.Client
}

func newStack(t *testing.T, tweak func(*cfg.Cfg)) *stack {
	t.Helper()
	c := createTestConfig(t)
	if tweak != nil {
		tweak(c)
	}
	log := zerolog.Nop()
	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout, log)
	if err != nil {
		t.Fatal(err)
	}
	lru, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		t.Fatal(err)
	}
	hasher, err := auth.NewHasher(auth.Params{
		Time:        c.Argon2Time,
		Memory:      c.Argon2Memory,
		Parallelism: c.Argon2Parallelism,
		KeyLen:      c.Argon2KeyLen,
	}, []byte(c.Pepper.Value()))
	if err != nil {
		t.Fatal(err)
	}
	hasher.SetVerifyFloor(0)
	if err := hasher.Start(c.HasherWorkerCount); err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokenService([]byte(c.JWT.SigningKey.Value()), c.JWT.Issuer, c.JWT.Audience, c.JWT.Expiry)
	if err != nil {
		t.Fatal(err)
	}
	sender := &captureSender{}
	outbox := mail.NewOutbox(sender, c.MailWorkers, 64, log)
	rec := &events.Recorder{}
	limiter, err := lim.New(lim.Config{
		RPM:               c.RateLimit.RPM,
		Burst:             c.RateLimit.Burst,
		ConservativeLimit: c.RateLimit.ConservativeLimit,
		TrustedProxies:    c.TrustedProxies,
	}, nil, log)
	if err != nil {
		t.Fatal(err)
	}
	deps := svc.Deps{
		DB:     sqlDB,
		LRU:    lru,
		Hasher: hasher,
		Tokens: tokens,
		Mail:   outbox,
		Events: rec,
		Cfg:    c,
		Log:    log,
	}
	services := svc.New(deps)
	server := api.NewServer(api.Opts{
		Cfg:      c,
		Services: services,
		Limiter:  limiter,
		Tokens:   tokens,
		DB:       sqlDB,
		Log:      log,
	})
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		limiter.Stop()
		outbox.Close(time.Second)
		hasher.Stop()
		sqlDB.Close()
	})
	return &stack{
		t:        t,
		cfg:      c,
		db:       sqlDB,
		lru:      lru,
		services: services,
		deps:     deps,
		events:   rec,
		mail:     sender,
		ts:       ts,
		client:   ts.Client(),
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) problem(t *testing.T) domain.Problem {
	t.Helper()
	var p domain.Problem
	if err := json.Unmarshal(r.body, &p); err != nil {
		t.Fatalf("decode problem %q: %v", r.body, err)
	}
	return p
}

// call is safe to use from many goroutines; it reports failures with
// t.Errorf rather than stopping the test.
func (s *stack) call(method, path, token string, body interface{}, headers ...string) response {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			s.t.Errorf("encode body: %v", err)
			return response{}
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	if err != nil {
		s.t.Errorf("new request: %v", err)
		return response{}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Errorf("%s %s: %v", method, path, err)
		return response{}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, header: resp.Header, body: raw}
}

// must decodes a successful response into T and fails the test otherwise.
func must[T any](t *testing.T, r response, status int) T {
	t.Helper()
	var v T
	if r.status != status {
		t.Fatalf("status = %d, want %d; body %s", r.status, status, r.body)
	}
	if len(r.body) > 0 {
		if err := json.Unmarshal(r.body, &v); err != nil {
			t.Fatalf("decode %q: %v", r.body, err)
		}
	}
	return v
}

func (s *stack) register(name string) domain.Profile {
	s.t.Helper()
	return must[domain.Profile](s.t, s.call("POST", "/api/users/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "s3cret-pass",
	}), http.StatusCreated)
}
func (s *stack) login(name string) domain.Tokens {
	s.t.Helper()
	return must[domain.Tokens](s.t, s.call("POST", "/api/users/login", "", map[string]string{
		"username": name, "password": "s3cret-pass",
	}), http.StatusOK)
}

// user registers and logs in, returning the id and an access token.
func (s *stack) user(name string) (string, string) {
	s.t.Helper()
	p := s.register(name)
	return p.ID, s.login(name).AccessToken
}
func (s *stack) paste(token string, body map[string]interface{}) domain.Paste {
	s.t.Helper()
	return must[domain.Paste](s.t, s.call("POST", "/api/pastes", token, body), http.StatusCreated)
}
