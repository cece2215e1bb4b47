package db

import (
	"context"
	"database/sql"
	"pastebin/pkg/domain"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const userColumns = `id, username, email, password_hash, image_url, created_at,
	refresh_token_hash, refresh_token_expires_at, email_confirmed,
	confirmation_token, confirmation_token_expires_at`

func mapUserConflict(err error) error {
	if !IsUniqueConstraintError(err) {
		return err
	}
	switch uniqueColumn(err) {
	case "users.username":
		return domain.ErrUsernameTaken
	case "users.email":
		return domain.ErrEmailTaken
	}
	return err
}
func (s *SQLite) CreateUser(ctx context.Context, u *domain.User) error {
	q := `
	INSERT INTO users (id, username, email, password_hash, image_url, created_at,
		email_confirmed, confirmation_token, confirmation_token_expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return s.run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q,
			u.ID, u.Username, u.Email, u.PasswordHash, u.ImageURL, u.CreatedAt,
			u.EmailConfirmed, u.ConfirmationToken, u.ConfirmationTokenExpiry,
		)
		if err != nil {
			return errors.Wrap(mapUserConflict(err), "create user")
		}
		return nil
	})
}
func (s *SQLite) getUser(ctx context.Context, where string, arg interface{}) (*domain.User, error) {
	var u domain.User
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}
func (s *SQLite) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id = ?", id)
}
func (s *SQLite) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, "username = ?", username)
}
func (s *SQLite) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email = ?", email)
}
func (s *SQLite) UserByRefreshHash(ctx context.Context, hash string) (*domain.User, error) {
	return s.getUser(ctx, "refresh_token_hash = ?", hash)
}
func (s *SQLite) exists(ctx context.Context, q string, args ...interface{}) (bool, error) {
	var n int
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &n, q, args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return n == 1, nil
}

// UsernameTaken reports whether another user than exceptID holds username.
func (s *SQLite) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE username = ? AND id <> ? LIMIT 1`, username, exceptID)
}
func (s *SQLite) EmailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE email = ? AND id <> ? LIMIT 1`, email, exceptID)
}
func (s *SQLite) UserExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE id = ? LIMIT 1`, id)
}
func (s *SQLite) ListUsers(ctx context.Context, page domain.PageReq) ([]domain.UserSummary, error) {
	var rows []domain.UserSummary
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows,
			`SELECT id, username, created_at FROM users ORDER BY username ASC LIMIT ? OFFSET ?`,
			page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "list users")
}
func (s *SQLite) UpdateUser(ctx context.Context, u *domain.User) error {
	q := `UPDATE users SET username = ?, email = ?, password_hash = ?, image_url = ?,
		email_confirmed = ?, confirmation_token = ?, confirmation_token_expires_at = ?
		WHERE id = ?`
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, q,
			u.Username, u.Email, u.PasswordHash, u.ImageURL,
			u.EmailConfirmed, u.ConfirmationToken, u.ConfirmationTokenExpiry, u.ID)
		if err != nil {
			return errors.Wrap(mapUserConflict(err), "update user")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
}
func (s *SQLite) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
		return errors.Wrap(err, "update password hash")
	})
}
func (s *SQLite) SetRefreshToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE users SET refresh_token_hash = ?, refresh_token_expires_at = ? WHERE id = ?`,
			hash, expiresAt.UTC(), id)
		if err != nil {
			return errors.Wrap(err, "set refresh token")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
}

// RotateRefreshToken swaps the stored hash only if oldHash is still the live,
// unexpired value. A false result means another request rotated it first or
// it expired in between.
func (s *SQLite) RotateRefreshToken(ctx context.Context, id, oldHash, newHash string, newExpiry, now time.Time) (bool, error) {
	var rotated bool
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET refresh_token_hash = ?, refresh_token_expires_at = ?
			WHERE id = ? AND refresh_token_hash = ? AND refresh_token_expires_at > ?`,
			newHash, newExpiry.UTC(), id, oldHash, now.UTC())
		if err != nil {
			return errors.Wrap(err, "rotate refresh token")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		rotated = n == 1
		return nil
	})
	return rotated, err
}
func (s *SQLite) ClearRefreshToken(ctx context.Context, id string) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE users SET refresh_token_hash = NULL, refresh_token_expires_at = NULL WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(err, "clear refresh token")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
}
func (s *SQLite) ConfirmEmail(ctx context.Context, email, token string, now time.Time) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET email_confirmed = 1, confirmation_token = NULL, confirmation_token_expires_at = NULL
			WHERE email = ? AND confirmation_token = ? AND confirmation_token_expires_at > ?`,
			email, token, now.UTC())
		if err != nil {
			return errors.Wrap(err, "confirm email")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrInvalidConfirmationToken
		}
		return nil
	})
}

// DeleteUser removes the user and returns the ids of the pastes that went
// with it so callers can evict them from caches.
func (s *SQLite) DeleteUser(ctx context.Context, id string) ([]string, error) {
	var pasteIDs []string
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &pasteIDs, `SELECT id FROM pastes WHERE user_id = ?`, id); err != nil {
			return errors.Wrap(err, "select user pastes")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(err, "delete user")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pasteIDs, nil
}

// PurgeExpiredTokens clears refresh and confirmation tokens past expiry.
func (s *SQLite) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE users SET refresh_token_hash = NULL, refresh_token_expires_at = NULL
			WHERE refresh_token_expires_at IS NOT NULL AND refresh_token_expires_at <= ?`, now.UTC())
		if err != nil {
			return errors.Wrap(err, "purge refresh tokens")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		total += n
		res, err = s.db.ExecContext(ctx, `
			UPDATE users SET confirmation_token = NULL, confirmation_token_expires_at = NULL
			WHERE confirmation_token_expires_at IS NOT NULL AND confirmation_token_expires_at <= ?`, now.UTC())
		if err != nil {
			return errors.Wrap(err, "purge confirmation tokens")
		}
		n, err = affected(res)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}
