package db

import (
	"context"
	"database/sql"
	"pastebin/pkg/domain"

	"github.com/pkg/errors"
)

// commentSelect joins the author and recounts votes on every read.
const commentSelect = `
	SELECT c.id, c.paste_id, c.parent_id, c.content, c.created_at, c.user_id,
		COALESCE(u.username, '') AS username,
		COALESCE(u.image_url, '') AS avatar_url,
		(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.is_upvote = 1) AS upvotes,
		(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.is_upvote = 0) AS downvotes
	FROM comments c
	LEFT JOIN users u ON u.id = c.user_id`

func (s *SQLite) CreateComment(ctx context.Context, c *domain.Comment) error {
	return s.run(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO comments (id, paste_id, user_id, parent_id, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.PasteID, c.UserID, c.ParentID, c.Content, c.CreatedAt.UTC())
		if IsForeignKeyError(err) {
			// paste, parent or author vanished between the checks and the insert
			return domain.ErrCommentNotFound.WithMsg("paste, parent comment or author no longer exists")
		}
		return errors.Wrap(err, "create comment")
	})
}
func (s *SQLite) CommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	var c domain.Comment
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &c,
			`SELECT id, paste_id, user_id, parent_id, content, created_at FROM comments WHERE id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCommentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get comment")
	}
	return &c, nil
}
func (s *SQLite) CommentRowByID(ctx context.Context, id string) (*domain.CommentRow, error) {
	var r domain.CommentRow
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.GetContext(ctx, &r, commentSelect+` WHERE c.id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCommentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get comment row")
	}
	return &r, nil
}

// TopLevelComments pages the root comments of a paste, newest first.
func (s *SQLite) TopLevelComments(ctx context.Context, pasteID string, page domain.PageReq) ([]domain.CommentRow, error) {
	var rows []domain.CommentRow
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, commentSelect+`
			WHERE c.paste_id = ? AND c.parent_id IS NULL
			ORDER BY c.created_at DESC, c.rowid DESC
			LIMIT ? OFFSET ?`,
			pasteID, page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "top level comments")
}

// Replies loads the direct children of parentIDs, oldest first.
func (s *SQLite) Replies(ctx context.Context, parentIDs []string) ([]domain.CommentRow, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	q, args, err := inQuery(commentSelect+`
		WHERE c.parent_id IN (?)
		ORDER BY c.created_at ASC, c.rowid ASC`, parentIDs)
	if err != nil {
		return nil, err
	}
	var rows []domain.CommentRow
	err = s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...)
	})
	return rows, errors.Wrap(err, "comment replies")
}
func (s *SQLite) CommentsByUser(ctx context.Context, userID string, page domain.PageReq) ([]domain.CommentRow, error) {
	var rows []domain.CommentRow
	err := s.run(ctx, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, &rows, commentSelect+`
			WHERE c.user_id = ?
			ORDER BY c.created_at DESC, c.rowid DESC
			LIMIT ? OFFSET ?`,
			userID, page.Limit(), page.Offset())
	})
	return rows, errors.Wrap(err, "comments by user")
}
func (s *SQLite) UpdateComment(ctx context.Context, id, userID, content string) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE comments SET content = ? WHERE id = ? AND user_id = ?`, content, id, userID)
		if err != nil {
			return errors.Wrap(err, "update comment")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrCommentNotFound
		}
		return nil
	})
}

// DeleteComment removes an owned comment. Replies and votes go with it.
func (s *SQLite) DeleteComment(ctx context.Context, id, userID string) error {
	return s.run(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return errors.Wrap(err, "delete comment")
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrCommentNotFound
		}
		return nil
	})
}
