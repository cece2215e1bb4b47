package db

import (
	"context"
	"database/sql"
	"pastebin/pkg/domain"
	"time"

	"github.com/pkg/errors"
)

const pasteColumns = `id, title, content, created_at, expires_at, is_private, password_hash, user_id`

const pasteSummarySelect = `
	SELECT p.id, p.title, p.created_at, p.expires_at, p.is_private, p.user_id,
		(SELECT COUNT(*) FROM likes l WHERE l.paste_id = p.id) AS likes
	FROM pastes p`

const notExpired = `(expires_at IS NULL OR expires_at > ?)`

func (s *SQLite) CreatePaste(ctx context.Context, p *domain.Paste) error {
	q := `
	INSERT INTO pastes (id, title, content, created_at, expires_at, is_private, password_hash, user_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	return s.run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q,
			p.ID, p.Title, p.Content, p.CreatedAt, p.ExpiresAt, p.IsPrivate, p.PasswordHash, p.UserID,
		)
		if IsForeignKeyError(err) {
			return domain.ErrUserNotFound
		}
		return errors.Wrap(err, "db create paste")
	})
}

// PasteByID returns a live paste. Expired rows read as not found even before
// the cleaner removes them.
func (s *SQLite) PasteByID(ctx context.Context, id string, now time.Time) (*domain.Paste, error) {
	var p domain.Paste
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &p,
			`SELECT `+pasteColumns+` FROM pastes WHERE id = ? AND `+notExpired, id, now.UTC())
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	return &p, nil
}
func (s *SQLite) PasteExists(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM pastes WHERE id = ? AND `+notExpired+` LIMIT 1`, id, now.UTC())
}
func (s *SQLite) ListPublicPastes(ctx context.Context, now time.Time, page domain.PageReq) ([]domain.PasteSummary, error) {
	var rows []domain.PasteSummary
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, pasteSummarySelect+`
			WHERE p.is_private = 0 AND (p.expires_at IS NULL OR p.expires_at > ?)
			ORDER BY p.created_at DESC, p.rowid DESC
			LIMIT ? OFFSET ?`,
			now.UTC(), page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "list public pastes")
}
func (s *SQLite) ListPastesByUser(ctx context.Context, userID string, now time.Time, page domain.PageReq) ([]domain.PasteSummary, error) {
	var rows []domain.PasteSummary
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, pasteSummarySelect+`
			WHERE p.user_id = ? AND (p.expires_at IS NULL OR p.expires_at > ?)
			ORDER BY p.created_at DESC, p.rowid DESC
			LIMIT ? OFFSET ?`,
			userID, now.UTC(), page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "list user pastes")
}

// UpdatePaste writes the mutable fields, guarded by owner.
func (s *SQLite) UpdatePaste(ctx context.Context, p *domain.Paste, ownerID string) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE pastes SET title = ?, content = ?, is_private = ?, password_hash = ?
			WHERE id = ? AND user_id = ?`,
			p.Title, p.Content, p.IsPrivate, p.PasswordHash, p.ID, ownerID)
		if err != nil {
			return errors.Wrap(err, "update paste")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrPasteNotFound
		}
		return nil
	})
}
func (s *SQLite) DeletePaste(ctx context.Context, id, ownerID string) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM pastes WHERE id = ? AND user_id = ?`, id, ownerID)
		if err != nil {
			return errors.Wrap(err, "delete paste")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrPasteNotFound
		}
		return nil
	})
}

// CleanupExpired deletes expired pastes in batches of 100 and returns their ids.
func (s *SQLite) CleanupExpired(ctx context.Context, now time.Time) ([]string, error) {
	var deleted []string
	const maxIterations = 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}
		var batch []string
		err := s.run(ctx, func(ctx context.Context) error {
			if err := s.db.SelectContext(ctx, &batch,
				`SELECT id FROM pastes WHERE expires_at IS NOT NULL AND expires_at <= ? LIMIT 100`, now.UTC()); err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			q, args, err := inQuery(`DELETE FROM pastes WHERE id IN (?)`, batch)
			if err != nil {
				return err
			}
			_, err = s.db.ExecContext(ctx, s.db.Rebind(q), args...)
			return err
		})
		if err != nil {
			return deleted, errors.Wrap(err, "cleanup batch failed")
		}
		if len(batch) == 0 {
			return deleted, nil
		}
		deleted = append(deleted, batch...)
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return deleted, errors.New("cleanup hit iteration limit, more records may exist")
}
