package db

import (
	"context"
	"database/sql"
	"pastebin/pkg/domain"
	"pastebin/svc/util"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ToggleVote applies the caller's vote and recounts the comment's tallies in
// the same transaction.
func (s *SQLite) ToggleVote(ctx context.Context, userID, commentID string, up bool) (domain.VoteAction, domain.Tally, error) {
	var (
		action domain.VoteAction
		tally  domain.Tally
	)
	err := s.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var one int
		err := tx.GetContext(ctx, &one, `SELECT 1 FROM comments WHERE id = ?`, commentID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCommentNotFound
		}
		if err != nil {
			return errors.Wrap(err, "check comment")
		}

		var existing *bool
		var cur bool
		err = tx.GetContext(ctx, &cur,
			`SELECT is_upvote FROM comment_votes WHERE user_id = ? AND comment_id = ?`, userID, commentID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return errors.Wrap(err, "load vote")
		default:
			existing = &cur
		}

		action = domain.NextVote(existing, up)
		switch action {
		case domain.VoteInsert:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO comment_votes (id, user_id, comment_id, is_upvote) VALUES (?, ?, ?, ?)`,
				util.NewID(), userID, commentID, up)
		case domain.VoteFlip:
			_, err = tx.ExecContext(ctx,
				`UPDATE comment_votes SET is_upvote = ? WHERE user_id = ? AND comment_id = ?`, up, userID, commentID)
		case domain.VoteRemove:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM comment_votes WHERE user_id = ? AND comment_id = ?`, userID, commentID)
		}
		switch {
		case IsUniqueConstraintError(err):
			return domain.ErrVoteConflict
		case IsForeignKeyError(err):
			return domain.ErrUserNotFound
		case err != nil:
			return errors.Wrapf(err, "apply vote %s", action)
		}

		return errors.Wrap(tx.GetContext(ctx, &tally, `
			SELECT
				COALESCE(SUM(CASE WHEN is_upvote = 1 THEN 1 ELSE 0 END), 0) AS upvotes,
				COALESCE(SUM(CASE WHEN is_upvote = 0 THEN 1 ELSE 0 END), 0) AS downvotes
			FROM comment_votes WHERE comment_id = ?`, commentID), "recount votes")
	})
	if err != nil {
		return 0, domain.Tally{}, err
	}
	return action, tally, nil
}
