// Package events publishes domain events for other services to consume.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	UserRegistered = "user.registered"
	PasteCreated   = "paste.created"
	PasteLiked     = "paste.liked"
	CommentCreated = "comment.created"
	CommentVoted   = "comment.voted"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
	Close()
}

type UserRegisteredEvent struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type PasteCreatedEvent struct {
	PasteID   string    `json:"pasteId"`
	OwnerID   *string   `json:"ownerId,omitempty"`
	IsPrivate bool      `json:"isPrivate"`
	CreatedAt time.Time `json:"createdAt"`
}

type PasteLikedEvent struct {
	PasteID   string    `json:"pasteId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommentCreatedEvent struct {
	CommentID    string    `json:"commentId"`
	PasteID      string    `json:"pasteId"`
	PasteOwnerID *string   `json:"pasteOwnerId,omitempty"`
	ParentID     *string   `json:"parentId,omitempty"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
}

type CommentVotedEvent struct {
	CommentID string `json:"commentId"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
}

// Nop drops every event. Used when NATS_URL is empty.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }
func (Nop) Close()                                             {}

type Recorded struct {
	Subject string
	Event   interface{}
}

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Publish(_ context.Context, subject string, v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Subject: subject, Event: v})
	return nil
}
func (r *Recorder) Close() {}
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Subjects lists the subjects published so far, in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Subject
	}
	return out
}
