package svc

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/auth"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (f *fakeMailer) Enqueue(m mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeMailer) last() mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type env struct {
	*Services
	store  *db.SQLite
	lru    *cache.LRU
	mailer *fakeMailer
	events *events.Recorder
	tokens *auth.TokenService
	cfg    *cfg.Cfg
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "svc.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	lru, err := cache.NewLRU(100)
	if err != nil {
		t.Fatal(err)
	}
	h, err := auth.NewHasher(auth.Params{Time: 1, Memory: 1024, Parallelism: 1, KeyLen: 32},
		[]byte("0123456789ABCDEF0123456789ABCDEF"))
	if err != nil {
		t.Fatal(err)
	}
	h.SetVerifyFloor(0)
	if err := h.Start(2); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Stop)
	tokens, err := auth.NewTokenService([]byte("test-signing-key-test-signing-key!"), "pastebin", "pastebin-clients", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c := &cfg.Cfg{
		PasteCacheTTL:        time.Minute,
		MaxPasteSize:         1024,
		TTLPresets:           []time.Duration{time.Hour, 24 * time.Hour},
		RefreshTokenTTL:      7 * 24 * time.Hour,
		TokenReplayTTL:       time.Hour,
		EmailConfirmationTTL: 24 * time.Hour,
		FrontendURL:          "http://localhost:8080",
		CleanupInterval:      time.Minute,
	}
	mailer := &fakeMailer{}
	rec := &events.Recorder{}
	s := New(Deps{
		DB:     store,
		LRU:    lru,
		Hasher: h,
		Tokens: tokens,
		Mail:   mailer,
		Events: rec,
		Cfg:    c,
		Log:    zerolog.Nop(),
	})
	return &env{Services: s, store: store, lru: lru, mailer: mailer, events: rec, tokens: tokens, cfg: c}
}

func (e *env) register(t *testing.T, name string) *domain.Profile {
	t.Helper()
	p, err := e.Users.Register(context.Background(), name, name+"@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return p
}

func TestRegisterLoginRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.register(t, "alice")

	if _, err := e.Users.Register(ctx, "alice", "other@example.com", "pw"); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Errorf("duplicate username: got %v", err)
	}
	if _, err := e.Users.Register(ctx, "bob", "alice@example.com", "pw"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Errorf("duplicate email: got %v", err)
	}
	if _, err := e.Users.Login(ctx, "alice", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("bad password: got %v", err)
	}
	if _, err := e.Users.Login(ctx, "nobody", "s3cret-pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", err)
	}

	tok, err := e.Users.Login(ctx, "alice", "s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := e.tokens.ValidateAccessToken(tok.AccessToken)
	if err != nil || claims.UserID() != p.ID || claims.EmailConfirmed {
		t.Fatalf("claims %+v, err %v", claims, err)
	}

	next, err := e.Users.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if next.RefreshToken == tok.RefreshToken {
		t.Error("refresh token not rotated")
	}
	if _, err := e.Users.Refresh(ctx, tok.RefreshToken); !errors.Is(err, domain.ErrInvalidRefreshToken) {
		t.Errorf("second use of refresh token: got %v", err)
	}

	if err := e.Users.Logout(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Users.Refresh(ctx, next.RefreshToken); !errors.Is(err, domain.ErrInvalidRefreshToken) {
		t.Errorf("refresh after logout: got %v", err)
	}
	if got := e.events.Subjects(); len(got) != 1 || got[0] != events.UserRegistered {
		t.Errorf("events = %v", got)
	}
}

func TestConfirmEmailFromMail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, "carol")

	m := e.mailer.last()
	i := strings.Index(m.HTML, "href=\"")
	if i < 0 {
		t.Fatalf("no link in mail: %s", m.HTML)
	}
	raw := m.HTML[i+6:]
	raw = raw[:strings.IndexByte(raw, '"')]
	u, err := url.Parse(strings.ReplaceAll(raw, "&amp;", "&"))
	if err != nil {
		t.Fatal(err)
	}
	email, token := u.Query().Get("email"), u.Query().Get("token")
	if email != "carol@example.com" || token == "" {
		t.Fatalf("link query %v", u.Query())
	}
	if err := e.Users.ConfirmEmail(ctx, email, "wrong"); !errors.Is(err, domain.ErrInvalidConfirmationToken) {
		t.Errorf("wrong token: got %v", err)
	}
	if err := e.Users.ConfirmEmail(ctx, email, token); err != nil {
		t.Fatal(err)
	}
	if err := e.Users.ConfirmEmail(ctx, email, token); !errors.Is(err, domain.ErrInvalidConfirmationToken) {
		t.Errorf("token reused: got %v", err)
	}
	tok, err := e.Users.Login(ctx, "carol", "s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	if claims, _ := e.tokens.ValidateAccessToken(tok.AccessToken); !claims.EmailConfirmed {
		t.Error("confirmed claim missing after confirmation")
	}
}

func TestUpdateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.register(t, "dave")
	e.register(t, "erin")

	taken := "erin"
	if _, err := e.Users.Update(ctx, a.ID, domain.UserUpdate{Username: &taken}); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Errorf("taken username: got %v", err)
	}
	name, email, pw, img := "dave2", "dave2@example.com", "new-pass", "https://img.example/d.png"
	p, err := e.Users.Update(ctx, a.ID, domain.UserUpdate{Username: &name, Email: &email, Password: &pw, ImageURL: &img})
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != name || p.Email != email || p.ImageURL == nil || *p.ImageURL != img || p.EmailConfirmed {
		t.Errorf("profile %+v", p)
	}
	if _, err := e.Users.Login(ctx, "dave2", "new-pass"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if e.mailer.last().To != email {
		t.Error("no confirmation mail for the new address")
	}
}

func TestPrivatePasteAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.register(t, "frank")

	if _, err := e.Pastes.Create(ctx, domain.CreateParams{Title: "x", Content: "y", IsPrivate: true}); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("private without password: got %v", err)
	}
	if _, err := e.Pastes.Create(ctx, domain.CreateParams{Title: "x", Content: "y", ExpiresIn: 3 * time.Minute}); !errors.Is(err, domain.ErrInvalidDuration) {
		t.Errorf("odd duration: got %v", err)
	}
	if _, err := e.Pastes.Create(ctx, domain.CreateParams{Title: "x", Content: strings.Repeat("a", 2000)}); !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Errorf("oversized: got %v", err)
	}

	p, err := e.Pastes.Create(ctx, domain.CreateParams{
		OwnerID:   owner.ID,
		Title:     "<b>secret</b>",
		Content:   "line\x00one\nline two",
		IsPrivate: true,
		Password:  "pw",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "secret" || p.Content != "lineone\nline two" {
		t.Errorf("not sanitized: %q %q", p.Title, p.Content)
	}
	if _, err := e.Pastes.Create(ctx, domain.CreateParams{Title: "<script></script>", Content: "c"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("markup-only title: got %v", err)
	}
	tj, err := e.Pastes.Create(ctx, domain.CreateParams{Title: "Tom & Jerry <3", Content: "c"})
	if err != nil {
		t.Fatal(err)
	}
	e.lru.Delete(tj.ID)
	got, err := e.Pastes.Get(ctx, tj.ID, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Tom & Jerry <3" {
		t.Errorf("stored title = %q", got.Title)
	}

	// once from the lru, once from the db
	for _, fresh := range []bool{false, true} {
		if fresh {
			e.lru.Delete(p.ID)
		}
		if _, err := e.Pastes.Get(ctx, p.ID, "", ""); !errors.Is(err, domain.ErrPasteNotFound) {
			t.Errorf("no password: got %v", err)
		}
		if _, err := e.Pastes.Get(ctx, p.ID, "", "nope"); !errors.Is(err, domain.ErrPasteNotFound) {
			t.Errorf("wrong password: got %v", err)
		}
		if got, err := e.Pastes.Get(ctx, p.ID, "", "pw"); err != nil || got.Content != p.Content {
			t.Errorf("right password: %v", err)
		}
		if _, err := e.Pastes.Get(ctx, p.ID, owner.ID, ""); err != nil {
			t.Errorf("owner: %v", err)
		}
	}

	public := false
	if _, err := e.Pastes.Update(ctx, p.ID, owner.ID, domain.PasteUpdate{IsPrivate: &public}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Pastes.Get(ctx, p.ID, "", ""); err != nil {
		t.Errorf("public after update: %v", err)
	}
	private := true
	if _, err := e.Pastes.Update(ctx, p.ID, owner.ID, domain.PasteUpdate{IsPrivate: &private}); !errors.Is(err, domain.ErrPasswordRequired) {
		t.Errorf("private again without password: got %v", err)
	}
	other := e.register(t, "grace")
	if err := e.Pastes.Delete(ctx, p.ID, other.ID); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("non-owner delete: got %v", err)
	}
	if err := e.Pastes.Delete(ctx, p.ID, owner.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Pastes.Get(ctx, p.ID, owner.ID, ""); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("deleted paste still served: %v", err)
	}
}

func TestExpiredPasteNotServedFromCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p, err := e.Pastes.Create(ctx, domain.CreateParams{Title: "t", Content: "c", ExpiresIn: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	e.Pastes.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := e.Pastes.Get(ctx, p.ID, "", ""); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("expired paste: got %v", err)
	}
}

func TestPasteListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.register(t, "heidi")
	for i := 0; i < 3; i++ {
		if _, err := e.Pastes.Create(ctx, domain.CreateParams{OwnerID: owner.ID, Title: "t", Content: "c"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.Pastes.Create(ctx, domain.CreateParams{OwnerID: owner.ID, Title: "p", Content: "c", IsPrivate: true, Password: "x"}); err != nil {
		t.Fatal(err)
	}
	first, err := e.Pastes.List(ctx, domain.NewPageReq(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Items) != 2 || !first.HasNextPage {
		t.Errorf("first page %+v", first)
	}
	last, _ := e.Pastes.List(ctx, domain.NewPageReq(2, 2))
	if len(last.Items) != 1 || last.HasNextPage {
		t.Errorf("last page %+v", last)
	}
	mine, _ := e.Pastes.ListByOwner(ctx, owner.ID, domain.NewPageReq(1, 10))
	if len(mine.Items) != 4 {
		t.Errorf("owner sees %d pastes, want 4", len(mine.Items))
	}
}

func TestLikes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, "ivan")
	p, _ := e.Pastes.Create(ctx, domain.CreateParams{Title: "t", Content: "c"})

	if _, err := e.Likes.Like(ctx, u.ID, "missing"); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("like missing paste: got %v", err)
	}
	if _, err := e.Likes.Like(ctx, u.ID, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Likes.Like(ctx, u.ID, p.ID); !errors.Is(err, domain.ErrLikeExists) {
		t.Errorf("double like: got %v", err)
	}
	page, _ := e.Likes.ListByPaste(ctx, p.ID, domain.NewPageReq(1, 10))
	if len(page.Items) != 1 || page.Items[0].Username != "ivan" {
		t.Errorf("likes %+v", page.Items)
	}
	if err := e.Likes.Unlike(ctx, u.ID, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.Likes.Unlike(ctx, u.ID, p.ID); !errors.Is(err, domain.ErrLikeNotFound) {
		t.Errorf("unlike without like: got %v", err)
	}
}

func TestCommentThreadAndVotes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.register(t, "judy")
	voter := e.register(t, "ken")
	p, _ := e.Pastes.Create(ctx, domain.CreateParams{OwnerID: owner.ID, Title: "t", Content: "c"})
	p2, _ := e.Pastes.Create(ctx, domain.CreateParams{Title: "t2", Content: "c"})
	if p2.Title != "t2" {
		t.Fatalf("title %q", p2.Title)
	}

	if _, err := e.Comments.Create(ctx, p.ID, owner.ID, "<i></i>", nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty comment: got %v", err)
	}
	if _, err := e.Comments.Create(ctx, p.ID, owner.ID, strings.Repeat("x", 301), nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("long comment: got %v", err)
	}
	if _, err := e.Comments.Create(ctx, p.ID, "ghost", "hi", nil); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("unknown user: got %v", err)
	}
	plain, err := e.Comments.Create(ctx, p.ID, owner.ID, "a < b && c > d", nil)
	if err != nil {
		t.Fatal(err)
	}
	if plain.Content != "a < b && c > d" {
		t.Errorf("comment text changed: %q", plain.Content)
	}
	amps, err := e.Comments.Create(ctx, p.ID, owner.ID, strings.Repeat("&", 300), nil)
	if err != nil {
		t.Fatalf("300 ampersands: got %v", err)
	}
	for _, id := range []string{plain.ID, amps.ID} {
		if err := e.Comments.Delete(ctx, id, owner.ID); err != nil {
			t.Fatal(err)
		}
	}

	top, err := e.Comments.Create(ctx, p.ID, owner.ID, "first", nil)
	if err != nil {
		t.Fatal(err)
	}
	reply, err := e.Comments.Create(ctx, p.ID, voter.ID, "reply", &top.ID)
	if err != nil {
		t.Fatal(err)
	}
	nested, err := e.Comments.Create(ctx, p.ID, voter.ID, "nested", &reply.ID)
	if err != nil {
		t.Fatal(err)
	}
	if nested.ParentID == nil || *nested.ParentID != top.ID {
		t.Errorf("reply to a reply not flattened: %+v", nested.ParentID)
	}
	if _, err := e.Comments.Create(ctx, p2.ID, voter.ID, "x", &top.ID); !errors.Is(err, domain.ErrParentMismatch) {
		t.Errorf("foreign parent: got %v", err)
	}
	missing := "missing"
	if _, err := e.Comments.Create(ctx, p.ID, voter.ID, "x", &missing); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("missing parent: got %v", err)
	}

	steps := []struct {
		up               bool
		action           string
		wantUp, wantDown int
	}{
		{true, "insert", 1, 0},
		{true, "remove", 0, 0},
		{false, "insert", 0, 1},
		{true, "flip", 1, 0},
	}
	for _, s := range steps {
		res, err := e.Votes.Vote(ctx, voter.ID, top.ID, s.up)
		if err != nil {
			t.Fatal(err)
		}
		if res.Action != s.action || res.Upvotes != s.wantUp || res.Downvotes != s.wantDown {
			t.Errorf("vote up=%v: got %+v, want %s %d/%d", s.up, res, s.action, s.wantUp, s.wantDown)
		}
	}
	if _, err := e.Votes.Vote(ctx, voter.ID, "missing", true); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("vote on missing comment: got %v", err)
	}

	page, err := e.Comments.ListByPaste(ctx, p.ID, domain.NewPageReq(1, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || len(page.Items[0].Replies) != 2 || page.Items[0].Upvotes != 1 {
		t.Fatalf("thread %+v", page.Items)
	}
	if page.Items[0].Replies[0].Content != "reply" || page.Items[0].Username != "judy" {
		t.Errorf("thread content %+v", page.Items[0])
	}
	got, err := e.Comments.Get(ctx, top.ID)
	if err != nil || len(got.Replies) != 2 {
		t.Errorf("get with replies: %+v %v", got, err)
	}

	if _, err := e.Comments.Update(ctx, top.ID, voter.ID, "hijack"); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("non-owner update: got %v", err)
	}
	if err := e.Comments.Delete(ctx, top.ID, owner.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Comments.Get(ctx, reply.ID); !errors.Is(err, domain.ErrCommentNotFound) {
		t.Errorf("reply survived parent delete: %v", err)
	}

	var created int
	for _, s := range e.events.Subjects() {
		if s == events.CommentCreated {
			created++
		}
	}
	if created != 3 {
		t.Errorf("comment.created published %d times, want 3", created)
	}
}

func TestDeleteUserEvictsPastes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, "leo")
	p, _ := e.Pastes.Create(ctx, domain.CreateParams{OwnerID: u.ID, Title: "t", Content: "c"})
	if _, ok := e.lru.Get(p.ID); !ok {
		t.Fatal("paste not cached on create")
	}
	if err := e.Users.Delete(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.lru.Get(p.ID); ok {
		t.Error("deleted user's paste still cached")
	}
	if _, err := e.Pastes.Get(ctx, p.ID, "", ""); !errors.Is(err, domain.ErrPasteNotFound) {
		t.Errorf("paste of deleted user: got %v", err)
	}
	if err := e.Users.Delete(ctx, u.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestCleanerPurgesExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p, _ := e.Pastes.Create(ctx, domain.CreateParams{Title: "t", Content: "c", ExpiresIn: time.Hour})
	e.Cleaner.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	e.Cleaner.RunOnce(ctx)
	if _, ok := e.lru.Get(p.ID); ok {
		t.Error("purged paste still cached")
	}
	if ok, _ := e.store.PasteExists(ctx, p.ID, time.Now()); ok {
		t.Error("expired paste not purged")
	}
}

func TestCleanerStartOnce(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	if err := e.Cleaner.Start(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := e.Cleaner.Start(ctx, nil); err == nil {
		t.Error("second start accepted")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleaner did not stop")
	}
}
