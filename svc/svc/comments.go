package svc

import (
	"context"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/util"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const maxCommentLength = 300

type Comments struct {
	db     *db.SQLite
	events events.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

func cleanComment(content string) (string, error) {
	content = stripHTML(content)
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return "", domain.ErrInvalidRequest.WithMsg("content is required")
	}
	if n > maxCommentLength {
		return "", domain.ErrInvalidRequest.WithMsg("content must be at most 300 characters")
	}
	return content, nil
}

// Create adds a comment, or a reply when parentID is set. Replies to a reply
// are attached to its top-level parent so threads stay one level deep.
func (s *Comments) Create(ctx context.Context, pasteID, userID, content string, parentID *string) (*domain.CommentView, error) {
	content, err := cleanComment(content)
	if err != nil {
		return nil, err
	}
	if ok, err := s.db.UserExists(ctx, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrUserNotFound
	}
	paste, err := s.db.PasteByID(ctx, pasteID, s.now())
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		parent, err := s.db.CommentByID(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.PasteID != pasteID {
			return nil, domain.ErrParentMismatch
		}
		if parent.ParentID != nil {
			parentID = parent.ParentID
		}
	}
	c := &domain.Comment{
		ID:        util.NewID(),
		PasteID:   pasteID,
		UserID:    &userID,
		ParentID:  parentID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	metrics.CommentsCreated.Inc()
	publish(ctx, s.events, s.log, events.CommentCreated, events.CommentCreatedEvent{
		CommentID:    c.ID,
		PasteID:      pasteID,
		PasteOwnerID: paste.UserID,
		ParentID:     c.ParentID,
		UserID:       userID,
		CreatedAt:    c.CreatedAt,
	})
	row, err := s.db.CommentRowByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	v := row.View()
	return &v, nil
}

// Get returns the comment with its direct replies.
func (s *Comments) Get(ctx context.Context, id string) (*domain.CommentView, error) {
	row, err := s.db.CommentRowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	replies, err := s.db.Replies(ctx, []string{row.ID})
	if err != nil {
		return nil, err
	}
	return &domain.BuildThread([]domain.CommentRow{*row}, replies)[0], nil
}

// ListByPaste pages the top-level comments of a paste, newest first, each
// with all of its replies.
func (s *Comments) ListByPaste(ctx context.Context, pasteID string, page domain.PageReq) (domain.Page[domain.CommentView], error) {
	ok, err := s.db.PasteExists(ctx, pasteID, s.now())
	if err != nil {
		return domain.Page[domain.CommentView]{}, err
	}
	if !ok {
		return domain.Page[domain.CommentView]{}, domain.ErrPasteNotFound
	}
	top, err := s.db.TopLevelComments(ctx, pasteID, page)
	if err != nil {
		return domain.Page[domain.CommentView]{}, err
	}
	rows := domain.NewPage(top, page)
	ids := make([]string, len(rows.Items))
	for i, r := range rows.Items {
		ids[i] = r.ID
	}
	replies, err := s.db.Replies(ctx, ids)
	if err != nil {
		return domain.Page[domain.CommentView]{}, err
	}
	return domain.Page[domain.CommentView]{
		Items:           domain.BuildThread(rows.Items, replies),
		PageNumber:      rows.PageNumber,
		PageSize:        rows.PageSize,
		HasPreviousPage: rows.HasPreviousPage,
		HasNextPage:     rows.HasNextPage,
	}, nil
}
func (s *Comments) ListByUser(ctx context.Context, userID string, page domain.PageReq) (domain.Page[domain.CommentView], error) {
	rows, err := s.db.CommentsByUser(ctx, userID, page)
	if err != nil {
		return domain.Page[domain.CommentView]{}, err
	}
	return domain.MapPage(domain.NewPage(rows, page), domain.CommentRow.View), nil
}
func (s *Comments) Update(ctx context.Context, id, userID, content string) (*domain.CommentView, error) {
	content, err := cleanComment(content)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpdateComment(ctx, id, userID, content); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the comment along with its replies and votes.
func (s *Comments) Delete(ctx context.Context, id, userID string) error {
	return s.db.DeleteComment(ctx, id, userID)
}
