// Package svc holds the application services the HTTP layer calls into.
package svc

import (
	"context"
	"pastebin/cfg"
	"pastebin/svc/auth"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/mail"
	"pastebin/svc/util"
	"time"

	"github.com/rs/zerolog"
)

// Mailer queues outbound mail. *mail.Outbox satisfies it.
type Mailer interface {
	Enqueue(m mail.Message) error
}

type Deps struct {
	DB     *db.SQLite
	Redis  *db.Redis // optional
	LRU    *cache.LRU
	Hasher *auth.Hasher
	Tokens *auth.TokenService
	Mail   Mailer
	Events events.Publisher
	Cfg    *cfg.Cfg
	Log    zerolog.Logger
}

type Services struct {
	Users    *Users
	Pastes   *Pastes
	Likes    *Likes
	Comments *Comments
	Votes    *Votes
	Cleaner  *Cleaner
}

func New(d Deps) *Services {
	if d.DB == nil || d.LRU == nil || d.Hasher == nil || d.Tokens == nil || d.Mail == nil || d.Cfg == nil {
		panic("svc: nil dependency (db, lru, hasher, tokens, mail or cfg)")
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	pastes := &Pastes{
		db:     d.DB,
		rdb:    d.Redis,
		lru:    d.LRU,
		hasher: d.Hasher,
		events: d.Events,
		cfg:    d.Cfg,
		log:    util.Component(d.Log, "pastes"),
		now:    time.Now,
	}
	return &Services{
		Users: &Users{
			db:     d.DB,
			rdb:    d.Redis,
			hasher: d.Hasher,
			tokens: d.Tokens,
			mail:   d.Mail,
			events: d.Events,
			pastes: pastes,
			cfg:    d.Cfg,
			log:    util.Component(d.Log, "users"),
			now:    time.Now,
		},
		Pastes: pastes,
		Likes: &Likes{
			db:     d.DB,
			events: d.Events,
			log:    util.Component(d.Log, "likes"),
			now:    time.Now,
		},
		Comments: &Comments{
			db:     d.DB,
			events: d.Events,
			log:    util.Component(d.Log, "comments"),
			now:    time.Now,
		},
		Votes: &Votes{
			db:     d.DB,
			events: d.Events,
			log:    util.Component(d.Log, "votes"),
		},
		Cleaner: &Cleaner{
			db:       d.DB,
			pastes:   pastes,
			interval: d.Cfg.CleanupInterval,
			log:      util.Component(d.Log, "cleaner"),
			now:      time.Now,
		},
	}
}

// publish never fails the caller; events are best effort.
func publish(ctx context.Context, pub events.Publisher, log zerolog.Logger, subject string, v interface{}) {
	if err := pub.Publish(ctx, subject, v); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("event not published")
	}
}
