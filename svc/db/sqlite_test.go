package db

import (
	"context"
	"errors"
	"path/filepath"
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLite, name string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:           util.NewID(),
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func seedPaste(t *testing.T, s *SQLite, owner *domain.User, created time.Time, expires *time.Time) *domain.Paste {
	t.Helper()
	p := &domain.Paste{
		ID:        util.NewID(),
		Title:     "t",
		Content:   "c",
		CreatedAt: created.UTC(),
		ExpiresAt: expires,
	}
	if owner != nil {
		p.UserID = &owner.ID
	}
	if err := s.CreatePaste(context.Background(), p); err != nil {
		t.Fatalf("create paste: %v", err)
	}
	return p
}

func TestCreateUserConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice")

	dupName := &domain.User{ID: util.NewID(), Username: "alice", Email: "other@example.com", PasswordHash: "h", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, dupName); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Errorf("duplicate username: got %v", err)
	}
	dupEmail := &domain.User{ID: util.NewID(), Username: "bob", Email: "alice@example.com", PasswordHash: "h", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, dupEmail); !errors.Is(err, domain.ErrEmailTaken) {
		t.Errorf("duplicate email: got %v", err)
	}
}

func TestRotateRefreshTokenOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "alice")
	now := time.Now().UTC()
	if err := s.SetRefreshToken(ctx, u.ID, "old", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rotated int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.RotateRefreshToken(ctx, u.ID, "old", util.NewID(), now.Add(2*time.Hour), now)
			if err != nil {
				t.Errorf("rotate: %v", err)
				return
			}
			if ok {
				mu.Lock()
				rotated++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if rotated != 1 {
		t.Errorf("rotated %d times, want exactly 1", rotated)
	}
}

func TestRotateRefreshTokenExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "alice")
	now := time.Now().UTC()
	if err := s.SetRefreshToken(ctx, u.ID, "old", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	ok, err := s.RotateRefreshToken(ctx, u.ID, "old", "new", now.Add(time.Hour), now)
	if err != nil || ok {
		t.Errorf("expired token rotated: ok=%v err=%v", ok, err)
	}
}

func TestConfirmEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	token := util.NewID()
	exp := now.Add(time.Hour)
	u := &domain.User{
		ID: util.NewID(), Username: "alice", Email: "alice@example.com", PasswordHash: "h", CreatedAt: now,
		ConfirmationToken: &token, ConfirmationTokenExpiry: &exp,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmEmail(ctx, u.Email, "wrong", now); !errors.Is(err, domain.ErrInvalidConfirmationToken) {
		t.Errorf("wrong token: got %v", err)
	}
	if err := s.ConfirmEmail(ctx, u.Email, token, now.Add(2*time.Hour)); !errors.Is(err, domain.ErrInvalidConfirmationToken) {
		t.Errorf("expired token: got %v", err)
	}
	if err := s.ConfirmEmail(ctx, u.Email, token, now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.EmailConfirmed || got.ConfirmationToken != nil {
		t.Errorf("user not confirmed: %+v", got)
	}
}

func TestListPublicPastesHasNext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedPaste(t, s, nil, base.Add(time.Duration(i)*time.Minute), nil)
	}
	past := time.Now().Add(-time.Minute).UTC()
	seedPaste(t, s, nil, base, &past)

	now := time.Now()
	req := domain.NewPageReq(1, 2)
	rows, err := s.ListPublicPastes(ctx, now, req)
	if err != nil {
		t.Fatal(err)
	}
	page := domain.NewPage(rows, req)
	if len(page.Items) != 2 || !page.HasNextPage {
		t.Errorf("page 1: %d items, hasNext=%v", len(page.Items), page.HasNextPage)
	}
	if !page.Items[0].CreatedAt.After(page.Items[1].CreatedAt) {
		t.Error("pastes not newest first")
	}

	req = domain.NewPageReq(3, 2)
	rows, err = s.ListPublicPastes(ctx, now, req)
	if err != nil {
		t.Fatal(err)
	}
	page = domain.NewPage(rows, req)
	if len(page.Items) != 1 || page.HasNextPage || !page.HasPreviousPage {
		t.Errorf("page 3: %d items, hasNext=%v hasPrev=%v", len(page.Items), page.HasNextPage, page.HasPreviousPage)
	}
}

func TestPasteOwnerGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	p := seedPaste(t, s, alice, time.Now(), nil)

	p.Title = "changed"
	if err := s.UpdatePaste(ctx, p, bob.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("non-owner update: got %v", err)
	}
	if err := s.DeletePaste(ctx, p.ID, bob.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("non-owner delete: got %v", err)
	}
	if err := s.DeletePaste(ctx, p.ID, alice.ID); err != nil {
		t.Errorf("owner delete: %v", err)
	}
	if _, err := s.PasteByID(ctx, p.ID, time.Now()); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("deleted paste still readable: %v", err)
	}
}

func TestLikeUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "alice")
	p := seedPaste(t, s, nil, time.Now(), nil)

	like := func() error {
		return s.CreateLike(ctx, &domain.Like{ID: util.NewID(), UserID: u.ID, PasteID: p.ID, CreatedAt: time.Now()})
	}
	if err := like(); err != nil {
		t.Fatalf("first like: %v", err)
	}
	if err := like(); !errors.Is(err, domain.ErrLikeExists) {
		t.Errorf("second like: got %v", err)
	}
	rows, err := s.LikesByPaste(ctx, p.ID, domain.NewPageReq(1, 10))
	if err != nil || len(rows) != 1 || rows[0].Username != "alice" {
		t.Errorf("likes by paste: %+v err=%v", rows, err)
	}
	if err := s.DeleteLike(ctx, u.ID, p.ID); err != nil {
		t.Errorf("unlike: %v", err)
	}
	if err := s.DeleteLike(ctx, u.ID, p.ID); !errors.Is(err, domain.ErrLikeNotFound) {
		t.Errorf("second unlike: got %v", err)
	}
}

func TestCommentsAndVotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	p := seedPaste(t, s, nil, time.Now(), nil)

	now := time.Now().UTC()
	root := &domain.Comment{ID: util.NewID(), PasteID: p.ID, UserID: &alice.ID, Content: "root", CreatedAt: now}
	if err := s.CreateComment(ctx, root); err != nil {
		t.Fatal(err)
	}
	reply := &domain.Comment{ID: util.NewID(), PasteID: p.ID, UserID: &bob.ID, ParentID: &root.ID, Content: "reply", CreatedAt: now.Add(time.Second)}
	if err := s.CreateComment(ctx, reply); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopLevelComments(ctx, p.ID, domain.NewPageReq(1, 10))
	if err != nil || len(top) != 1 {
		t.Fatalf("top level: %+v err=%v", top, err)
	}
	replies, err := s.Replies(ctx, []string{root.ID})
	if err != nil || len(replies) != 1 || replies[0].Username != "bob" {
		t.Fatalf("replies: %+v err=%v", replies, err)
	}

	steps := []struct {
		user   string
		up     bool
		action domain.VoteAction
		tally  domain.Tally
	}{
		{alice.ID, true, domain.VoteInsert, domain.Tally{Upvotes: 1}},
		{bob.ID, false, domain.VoteInsert, domain.Tally{Upvotes: 1, Downvotes: 1}},
		{alice.ID, false, domain.VoteFlip, domain.Tally{Downvotes: 2}},
		{alice.ID, false, domain.VoteRemove, domain.Tally{Downvotes: 1}},
	}
	for i, st := range steps {
		action, tally, err := s.ToggleVote(ctx, st.user, root.ID, st.up)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if action != st.action || tally != st.tally {
			t.Errorf("step %d: got %s %+v, want %s %+v", i, action, tally, st.action, st.tally)
		}
	}
	if _, _, err := s.ToggleVote(ctx, alice.ID, "missing", true); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("vote on missing comment: got %v", err)
	}

	if err := s.DeleteComment(ctx, root.ID, bob.ID); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("non-owner delete: got %v", err)
	}
	if err := s.DeleteComment(ctx, root.ID, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CommentByID(ctx, reply.ID); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("reply survived parent delete: %v", err)
	}
}

func TestDeleteUserKeepsCommentsAnonymous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	p := seedPaste(t, s, bob, time.Now(), nil)
	owned := seedPaste(t, s, alice, time.Now(), nil)
	c := &domain.Comment{ID: util.NewID(), PasteID: p.ID, UserID: &alice.ID, Content: "hi", CreatedAt: time.Now()}
	if err := s.CreateComment(ctx, c); err != nil {
		t.Fatal(err)
	}

	ids, err := s.DeleteUser(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != owned.ID {
		t.Errorf("deleted paste ids = %v", ids)
	}
	row, err := s.CommentRowByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.UserID != nil || row.Username != "" {
		t.Errorf("comment author not cleared: %+v", row)
	}
	if _, err := s.DeleteUser(ctx, alice.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute).UTC()
	future := time.Now().Add(time.Hour).UTC()
	for i := 0; i < 3; i++ {
		seedPaste(t, s, nil, time.Now(), &past)
	}
	live := seedPaste(t, s, nil, time.Now(), &future)

	ids, err := s.CleanupExpired(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Errorf("cleaned %d pastes, want 3", len(ids))
	}
	if _, err := s.PasteByID(ctx, live.ID, time.Now()); err != nil {
		t.Errorf("live paste removed: %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	if got := buildDSN(":memory:", true); got != ":memory:?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate" {
		t.Errorf("memory dsn = %s", got)
	}
	if got := buildDSN("file:x.db?cache=shared", false); got != "file:x.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_synchronous=FULL" {
		t.Errorf("file dsn = %s", got)
	}
}
