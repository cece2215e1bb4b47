package domain

import "time"

type Like struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	PasteID   string    `json:"pasteId" db:"paste_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	Username  string    `json:"username,omitempty" db:"username"`
	Title     string    `json:"pasteTitle,omitempty" db:"title"`
}
