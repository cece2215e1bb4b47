package db

import (
	"context"
	"pastebin/pkg/domain"
	"time"

	"github.com/pkg/errors"
)

// CreateLike inserts the like unless the pair already exists. The paste's
// existence is checked by the caller; a vanished user surfaces as a foreign
// key failure.
func (s *SQLite) CreateLike(ctx context.Context, l *domain.Like) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO likes (id, user_id, paste_id, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, paste_id) DO NOTHING`,
			l.ID, l.UserID, l.PasteID, l.CreatedAt.UTC())
		if IsForeignKeyError(err) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return errors.Wrap(err, "create like")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrLikeExists
		}
		return nil
	})
}
func (s *SQLite) DeleteLike(ctx context.Context, userID, pasteID string) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM likes WHERE user_id = ? AND paste_id = ?`, userID, pasteID)
		if err != nil {
			return errors.Wrap(err, "delete like")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrLikeNotFound
		}
		return nil
	})
}
func (s *SQLite) LikesByPaste(ctx context.Context, pasteID string, page domain.PageReq) ([]domain.Like, error) {
	var rows []domain.Like
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, `
			SELECT l.id, l.user_id, l.paste_id, l.created_at, u.username, '' AS title
			FROM likes l JOIN users u ON u.id = l.user_id
			WHERE l.paste_id = ?
			ORDER BY l.created_at DESC, l.rowid DESC
			LIMIT ? OFFSET ?`,
			pasteID, page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "likes by paste")
}

// LikesByUser skips likes whose paste has expired but not yet been cleaned.
func (s *SQLite) LikesByUser(ctx context.Context, userID string, now time.Time, page domain.PageReq) ([]domain.Like, error) {
	var rows []domain.Like
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, `
			SELECT l.id, l.user_id, l.paste_id, l.created_at, '' AS username, p.title
			FROM likes l JOIN pastes p ON p.id = l.paste_id
			WHERE l.user_id = ? AND (p.expires_at IS NULL OR p.expires_at > ?)
			ORDER BY l.created_at DESC, l.rowid DESC
			LIMIT ? OFFSET ?`,
			userID, now.UTC(), page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "likes by user")
}
