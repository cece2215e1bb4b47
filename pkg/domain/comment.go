package domain

import "time"

type Comment struct {
	ID        string    `db:"id"`
	PasteID   string    `db:"paste_id"`
	UserID    *string   `db:"user_id"`
	ParentID  *string   `db:"parent_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// CommentRow is a comment joined with its author and vote tallies.
type CommentRow struct {
	ID        string    `db:"id"`
	PasteID   string    `db:"paste_id"`
	ParentID  *string   `db:"parent_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
	Upvotes   int       `db:"upvotes"`
	Downvotes int       `db:"downvotes"`
	UserID    *string   `db:"user_id"`
	Username  string    `db:"username"`
	AvatarURL string    `db:"avatar_url"`
}

type CommentView struct {
	ID        string        `json:"id"`
	PasteID   string        `json:"pasteId"`
	ParentID  *string       `json:"parentId,omitempty"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Upvotes   int           `json:"upvotes"`
	Downvotes int           `json:"downvotes"`
	UserID    *string       `json:"userId,omitempty"`
	Username  string        `json:"username"`
	AvatarURL string        `json:"avatarUrl"`
	Replies   []CommentView `json:"replies"`
}

func (r CommentRow) View() CommentView {
	return CommentView{
		ID:        r.ID,
		PasteID:   r.PasteID,
		ParentID:  r.ParentID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Upvotes:   r.Upvotes,
		Downvotes: r.Downvotes,
		UserID:    r.UserID,
		Username:  r.Username,
		AvatarURL: r.AvatarURL,
		Replies:   []CommentView{},
	}
}

type Tally struct {
	Upvotes   int `json:"upvotes" db:"upvotes"`
	Downvotes int `json:"downvotes" db:"downvotes"`
}
