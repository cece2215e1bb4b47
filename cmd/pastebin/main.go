package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"pastebin/cfg"
	"pastebin/pkg/secrets"
	"pastebin/svc/api"
	"pastebin/svc/auth"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/lim"
	"pastebin/svc/mail"
	"pastebin/svc/svc"
	"pastebin/svc/util"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	pepperSecret     = "ARGON2_PEPPER"
	signingKeySecret = "JWT_SIGNING_KEY"
	mailQueueSize    = 256
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "-health":
			os.Exit(healthCheck())
		case "seal":
			os.Exit(seal())
		}
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	log := util.InitLog(c.LogLevel, c.Environment == "development")
	log.Info().Str("environment", c.Environment).Msg("starting pastebin API")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var secretCache *secrets.Cache
	if c.PepperFromSecrets || c.JWT.KeyFromSecrets {
		store, err := secrets.NewStore(ctx, util.Component(log, "secrets"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize secret store")
			os.Exit(1)
		}
		secretCache = secrets.NewCache(store, c.SecretCacheTTL)
		defer secretCache.Stop()
	}
	pepper, err := loadSecret(ctx, secretCache, c.PepperFromSecrets, pepperSecret, c.Pepper)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pepper")
		os.Exit(1)
	}
	signingKey, err := loadSecret(ctx, secretCache, c.JWT.KeyFromSecrets, signingKeySecret, c.JWT.SigningKey)
	if err != nil {
		util.Wipe(pepper)
		log.Fatal().Err(err).Msg("failed to load JWT signing key")
		os.Exit(1)
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout, util.Component(log, "db"))
	if err != nil {
		util.Wipe(pepper)
		log.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	log.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = connect(ctx, "redis", log, func() (*db.Redis, error) { return db.NewRedis(c) })
		if err != nil {
			if c.Environment == "production" {
				log.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			log.Warn().Err(err).Msg("redis unavailable, continuing without it")
			rdb = nil
		} else {
			log.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}

	hasher, err := auth.NewHasher(auth.Params{
		Time:        c.Argon2Time,
		Memory:      c.Argon2Memory,
		Parallelism: c.Argon2Parallelism,
		KeyLen:      c.Argon2KeyLen,
	}, pepper)
	util.Wipe(pepper)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}
	if err := hasher.Start(c.HasherWorkerCount); err != nil {
		log.Fatal().Err(err).Msg("failed to start hasher")
		os.Exit(1)
	}
	defer hasher.Stop()

	tokens, err := auth.NewTokenService(signingKey, c.JWT.Issuer, c.JWT.Audience, c.JWT.Expiry)
	util.Wipe(signingKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
		os.Exit(1)
	}

	if c.JWT.KeyFromSecrets {
		watchSecrets(ctx, secretCache, tokens, log)
	}

	var sender mail.Sender = mail.NewLogSender(util.Component(log, "mail"))
	if c.SMTP.Host != "" {
		sender = mail.NewSMTP(mail.SMTPConfig{
			Host:     c.SMTP.Host,
			Port:     c.SMTP.Port,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password.Value(),
			From:     c.SMTP.From,
		}, util.Component(log, "mail"))
	} else {
		log.Warn().Msg("SMTP_HOST not set, confirmation mails are only logged")
	}
	outbox := mail.NewOutbox(sender, c.MailWorkers, mailQueueSize, util.Component(log, "mail"))
	defer outbox.Close(10 * time.Second)

	var publisher events.Publisher = events.Nop{}
	var natsConn *events.NATS
	if c.NATS.URL != "" {
		natsConn, err = connect(ctx, "nats", log, func() (*events.NATS, error) {
			return events.NewNATS(events.NATSConfig{
				URL:           c.NATS.URL,
				MaxReconnects: c.NATS.MaxReconnects,
				ReconnectWait: c.NATS.ReconnectWait,
			}, util.Component(log, "events"))
		})
		if err != nil {
			log.Warn().Err(err).Str("url", c.NATS.URL).Msg("event bus unavailable, events disabled")
		} else {
			publisher = natsConn
			defer natsConn.Close()
		}
	}

	var counter lim.Counter
	if rdb != nil {
		counter = rdb
	}
	limiter, err := lim.New(lim.Config{
		RPM:               c.RateLimit.RPM,
		Burst:             c.RateLimit.Burst,
		ConservativeLimit: c.RateLimit.ConservativeLimit,
		TrustedProxies:    c.TrustedProxies,
	}, counter, util.Component(log, "ratelimit"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize rate limiter")
		os.Exit(1)
	}
	defer limiter.Stop()

	services := svc.New(svc.Deps{
		DB:     sqlDB,
		Redis:  rdb,
		LRU:    lruCache,
		Hasher: hasher,
		Tokens: tokens,
		Mail:   outbox,
		Events: publisher,
		Cfg:    c,
		Log:    log,
	})

	opts := api.Opts{
		Cfg:      c,
		Services: services,
		Limiter:  limiter,
		Tokens:   tokens,
		DB:       sqlDB,
		Redis:    rdb,
		Log:      util.Component(log, "http"),
	}
	if natsConn != nil {
		opts.Events = natsConn
	}
	server := api.NewServer(opts)

	walCtx, stopWAL := context.WithCancel(ctx)
	walDone := make(chan struct{})
	go sqlDB.StartWALMaintenance(walCtx, walDone)

	cleanerDone := make(chan struct{})
	if err := services.Cleaner.Start(ctx, cleanerDone); err != nil {
		log.Error().Err(err).Msg("failed to start cleaner")
		close(cleanerDone)
	}

	if c.PprofAddr != "" {
		go func() {
			log.Info().Str("addr", c.PprofAddr).Msg("starting pprof server")
			if err := http.ListenAndServe(c.PprofAddr, nil); err != nil {
				log.Warn().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	stopWAL()
	for name, done := range map[string]chan struct{}{"WAL maintenance": walDone, "cleaner": cleanerDone} {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Warn().Str("worker", name).Msg("worker did not stop in time")
		}
	}
	log.Info().Msg("shutdown complete")
}

// loadSecret returns the configured value, or resolves name through the
// secret store when fromStore is set.
func loadSecret(ctx context.Context, store *secrets.Cache, fromStore bool, name string, configured cfg.Secret) ([]byte, error) {
	if !fromStore {
		return []byte(configured.Value()), nil
	}
	v, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	return v, nil
}

// watchSecrets swaps in a rotated JWT signing key without a restart. Tokens
// signed with the previous key stop validating once the new one is installed.
// The pepper is read once; rotating it would orphan every stored hash.
func watchSecrets(ctx context.Context, store *secrets.Cache, tokens *auth.TokenService, log zerolog.Logger) {
	go store.Watch(ctx, signingKeySecret, func(v []byte) {
		defer util.Wipe(v)
		if err := tokens.Rotate(v); err != nil {
			log.Error().Err(err).Msg("rotated signing key rejected")
			return
		}
		log.Info().Msg("JWT signing key rotated")
	})
}

func healthCheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "pastebin.db"
	}
	sqlDB, err := db.NewSQLite(dbPath, zerolog.Nop())
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

// seal reads a secret from stdin and prints it encrypted under
// SECRETS_LOCAL_KEY, ready for <NAME>_CIPHERTEXT.
func seal() int {
	key, err := base64.StdEncoding.DecodeString(os.Getenv("SECRETS_LOCAL_KEY"))
	if err != nil || len(key) != 32 {
		fmt.Fprintln(os.Stderr, "SECRETS_LOCAL_KEY must be 32 base64-encoded bytes")
		return 1
	}
	defer util.Wipe(key)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "no secret on stdin")
		return 1
	}
	plaintext := []byte(strings.TrimRight(line, "\r\n"))
	defer util.Wipe(plaintext)
	sealed, err := secrets.SealLocal(key, plaintext)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seal failed:", err)
		return 1
	}
	fmt.Println(base64.StdEncoding.EncodeToString(sealed))
	return 0
}
