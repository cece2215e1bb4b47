package svc

import (
	"context"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/auth"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/util"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Pastes struct {
	db     *db.SQLite
	rdb    *db.Redis
	lru    *cache.LRU
	hasher *auth.Hasher
	events events.Publisher
	cfg    *cfg.Cfg
	log    zerolog.Logger
	now    func() time.Time
	loads  singleflight.Group
}

func (s *Pastes) validDuration(d time.Duration) bool {
	if d == 0 {
		return true
	}
	for _, preset := range s.cfg.TTLPresets {
		if d == preset {
			return true
		}
	}
	return false
}
func cleanTitle(title string) (string, error) {
	title = stripHTML(title)
	if title == "" {
		return "", domain.ErrInvalidRequest.WithMsg("title is required")
	}
	return title, nil
}
func (s *Pastes) cleanContent(content string) (string, error) {
	content = normalizeContent(content)
	if int64(len(content)) > s.cfg.MaxPasteSize {
		return "", domain.ErrPasteTooLarge
	}
	return content, nil
}

// Create stores a new paste. A zero ExpiresIn never expires; anything else
// must be one of the configured presets.
func (s *Pastes) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if params.IsPrivate && params.Password == "" {
		return nil, domain.ErrPasswordRequired
	}
	if !s.validDuration(params.ExpiresIn) {
		return nil, domain.ErrInvalidDuration
	}
	title, err := cleanTitle(params.Title)
	if err != nil {
		return nil, err
	}
	content, err := s.cleanContent(params.Content)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &domain.Paste{
		ID:        util.NewID(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		IsPrivate: params.IsPrivate,
	}
	if params.ExpiresIn > 0 {
		exp := now.Add(params.ExpiresIn)
		p.ExpiresAt = &exp
	}
	if params.OwnerID != "" {
		owner := params.OwnerID
		p.UserID = &owner
	}
	if params.IsPrivate {
		hash, err := s.hasher.Hash(ctx, params.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash paste password")
		}
		p.PasswordHash = &hash
	}
	if err := s.db.CreatePaste(ctx, p); err != nil {
		return nil, err
	}
	s.cache(ctx, p)
	metrics.PasteCreated.Inc()
	publish(ctx, s.events, s.log, events.PasteCreated, events.PasteCreatedEvent{
		PasteID:   p.ID,
		OwnerID:   p.UserID,
		IsPrivate: p.IsPrivate,
		CreatedAt: p.CreatedAt,
	})
	return p, nil
}
func (s *Pastes) cache(ctx context.Context, p *domain.Paste) {
	ttl := p.CacheTTL(s.cfg.PasteCacheTTL, s.now())
	s.lru.Set(p, ttl)
	if s.rdb != nil {
		if err := s.rdb.CachePaste(ctx, p, ttl); err != nil {
			s.log.Warn().Err(err).Str("id", p.ID).Msg("failed to cache in redis")
		}
	}
}

// Get returns the paste if viewerID owns it or it is public. Other viewers
// of a private paste need the password; a wrong one looks like a missing
// paste.
func (s *Pastes) Get(ctx context.Context, id, viewerID, password string) (*domain.Paste, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Expired(s.now()) {
		s.Evict(ctx, id)
		return nil, domain.ErrPasteNotFound
	}
	if err := s.checkAccess(p, viewerID, password); err != nil {
		return nil, err
	}
	metrics.PasteRetrieved.Inc()
	return p, nil
}
func (s *Pastes) load(ctx context.Context, id string) (*domain.Paste, error) {
	if p, ok := s.lru.Get(id); ok {
		metrics.CacheHits.WithLabelValues("lru").Inc()
		return p, nil
	}
	if s.rdb != nil {
		p, err := s.rdb.GetPaste(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("redis lookup failed")
		} else if p != nil {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			s.lru.Set(p, p.CacheTTL(s.cfg.PasteCacheTTL, s.now()))
			return p, nil
		}
	}
	v, err, _ := s.loads.Do(id, func() (interface{}, error) {
		metrics.CacheMisses.Inc()
		p, err := s.db.PasteByID(ctx, id, s.now())
		if err != nil {
			return nil, err
		}
		s.cache(ctx, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*domain.Paste)
	return &cp, nil
}
func (s *Pastes) checkAccess(p *domain.Paste, viewerID, password string) error {
	if !p.IsPrivate || p.OwnedBy(viewerID) {
		return nil
	}
	if password == "" || p.PasswordHash == nil {
		return domain.ErrPasteNotFound
	}
	if match, _ := s.hasher.Verify(password, *p.PasswordHash); !match {
		return domain.ErrPasteNotFound
	}
	return nil
}
func (s *Pastes) List(ctx context.Context, page domain.PageReq) (domain.Page[domain.PasteSummary], error) {
	rows, err := s.db.ListPublicPastes(ctx, s.now(), page)
	if err != nil {
		return domain.Page[domain.PasteSummary]{}, err
	}
	return domain.NewPage(rows, page), nil
}
func (s *Pastes) ListByOwner(ctx context.Context, ownerID string, page domain.PageReq) (domain.Page[domain.PasteSummary], error) {
	rows, err := s.db.ListPastesByUser(ctx, ownerID, s.now(), page)
	if err != nil {
		return domain.Page[domain.PasteSummary]{}, err
	}
	return domain.NewPage(rows, page), nil
}

// Update applies the non-nil fields. Going private needs a password, going
// public drops the stored hash.
func (s *Pastes) Update(ctx context.Context, id, userID string, upd domain.PasteUpdate) (*domain.Paste, error) {
	p, err := s.db.PasteByID(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(userID) {
		return nil, domain.ErrPasteNotFound
	}
	if upd.Title != nil {
		if p.Title, err = cleanTitle(*upd.Title); err != nil {
			return nil, err
		}
	}
	if upd.Content != nil {
		if p.Content, err = s.cleanContent(*upd.Content); err != nil {
			return nil, err
		}
	}
	private := p.IsPrivate
	if upd.IsPrivate != nil {
		private = *upd.IsPrivate
	}
	newPassword := upd.Password != nil && *upd.Password != ""
	switch {
	case !private:
		p.PasswordHash = nil
	case newPassword:
		hash, err := s.hasher.Hash(ctx, *upd.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash paste password")
		}
		p.PasswordHash = &hash
	case !p.IsPrivate || p.PasswordHash == nil:
		return nil, domain.ErrPasswordRequired
	}
	p.IsPrivate = private
	if err := s.db.UpdatePaste(ctx, p, userID); err != nil {
		return nil, err
	}
	s.Evict(ctx, id)
	return p, nil
}
func (s *Pastes) Delete(ctx context.Context, id, userID string) error {
	if err := s.db.DeletePaste(ctx, id, userID); err != nil {
		return err
	}
	s.Evict(ctx, id)
	return nil
}

// Evict drops ids from both cache layers.
func (s *Pastes) Evict(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.lru.Delete(ids...)
	if s.rdb != nil {
		if err := s.rdb.Delete(ctx, ids...); err != nil {
			s.log.Warn().Err(err).Int("count", len(ids)).Msg("failed to delete from redis")
		}
	}
}
