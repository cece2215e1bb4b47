package svc

import (
	"context"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/db"
	"pastebin/svc/events"

	"github.com/rs/zerolog"
)

type Votes struct {
	db     *db.SQLite
	events events.Publisher
	log    zerolog.Logger
}

type VoteResult struct {
	Action string `json:"action"`
	domain.Tally
}

// Vote records an up or down vote. Voting the same way twice removes the
// vote; voting the other way flips it.
func (s *Votes) Vote(ctx context.Context, userID, commentID string, up bool) (*VoteResult, error) {
	action, tally, err := s.db.ToggleVote(ctx, userID, commentID, up)
	if err != nil {
		return nil, err
	}
	metrics.Votes.WithLabelValues(action.String()).Inc()
	publish(ctx, s.events, s.log, events.CommentVoted, events.CommentVotedEvent{
		CommentID: commentID,
		UserID:    userID,
		Action:    action.String(),
		Upvotes:   tally.Upvotes,
		Downvotes: tally.Downvotes,
	})
	return &VoteResult{Action: action.String(), Tally: tally}, nil
}
