package svc

import (
	"context"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/util"
	"time"

	"github.com/rs/zerolog"
)

type Likes struct {
	db     *db.SQLite
	events events.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

func (s *Likes) requirePaste(ctx context.Context, pasteID string) error {
	ok, err := s.db.PasteExists(ctx, pasteID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPasteNotFound
	}
	return nil
}
func (s *Likes) Like(ctx context.Context, userID, pasteID string) (*domain.Like, error) {
	if err := s.requirePaste(ctx, pasteID); err != nil {
		return nil, err
	}
	l := &domain.Like{
		ID:        util.NewID(),
		UserID:    userID,
		PasteID:   pasteID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.CreateLike(ctx, l); err != nil {
		return nil, err
	}
	metrics.LikesCreated.Inc()
	publish(ctx, s.events, s.log, events.PasteLiked, events.PasteLikedEvent{
		PasteID:   pasteID,
		UserID:    userID,
		CreatedAt: l.CreatedAt,
	})
	return l, nil
}
func (s *Likes) Unlike(ctx context.Context, userID, pasteID string) error {
	return s.db.DeleteLike(ctx, userID, pasteID)
}
func (s *Likes) ListByPaste(ctx context.Context, pasteID string, page domain.PageReq) (domain.Page[domain.Like], error) {
	if err := s.requirePaste(ctx, pasteID); err != nil {
		return domain.Page[domain.Like]{}, err
	}
	rows, err := s.db.LikesByPaste(ctx, pasteID, page)
	if err != nil {
		return domain.Page[domain.Like]{}, err
	}
	return domain.NewPage(rows, page), nil
}
func (s *Likes) ListByUser(ctx context.Context, userID string, page domain.PageReq) (domain.Page[domain.Like], error) {
	rows, err := s.db.LikesByUser(ctx, userID, s.now(), page)
	if err != nil {
		return domain.Page[domain.Like]{}, err
	}
	return domain.NewPage(rows, page), nil
}
