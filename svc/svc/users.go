package svc

import (
	"context"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/auth"
	"pastebin/svc/db"
	"pastebin/svc/events"
	"pastebin/svc/mail"
	"pastebin/svc/util"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Users struct {
	db     *db.SQLite
	rdb    *db.Redis
	hasher *auth.Hasher
	tokens *auth.TokenService
	mail   Mailer
	events events.Publisher
	pastes *Pastes
	cfg    *cfg.Cfg
	log    zerolog.Logger
	now    func() time.Time
}

func (u *Users) Register(ctx context.Context, username, email, password string) (*domain.Profile, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if taken, err := u.db.UsernameTaken(ctx, username, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, domain.ErrUsernameTaken
	}
	if taken, err := u.db.EmailTaken(ctx, email, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, domain.ErrEmailTaken
	}
	hash, err := u.hasher.Hash(ctx, password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	now := u.now().UTC()
	token, expiry := util.NewID(), now.Add(u.cfg.EmailConfirmationTTL)
	user := &domain.User{
		ID:                      util.NewID(),
		Username:                username,
		Email:                   email,
		PasswordHash:            hash,
		CreatedAt:               now,
		ConfirmationToken:       &token,
		ConfirmationTokenExpiry: &expiry,
	}
	// a concurrent registration can still win the unique index
	if err := u.db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	metrics.UsersRegistered.Inc()
	u.log.Info().Str("user_id", user.ID).Str("email", util.RedactEmail(email)).Msg("user registered")
	u.sendConfirmation(user, token)
	publish(ctx, u.events, u.log, events.UserRegistered, events.UserRegisteredEvent{
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	})
	p := user.Profile()
	return &p, nil
}
func (u *Users) sendConfirmation(user *domain.User, token string) {
	link := mail.ConfirmationLink(u.cfg.FrontendURL, user.Email, token)
	m, err := mail.Confirmation(user.Email, user.Username, link, u.cfg.EmailConfirmationTTL)
	if err != nil {
		u.log.Error().Err(err).Str("user_id", user.ID).Msg("confirmation mail not rendered")
		return
	}
	if err := u.mail.Enqueue(m); err != nil {
		u.log.Warn().Err(err).Str("user_id", user.ID).Msg("confirmation mail not queued")
	}
}

// Login always runs one argon2 verification, against an empty hash for
// unknown usernames, so response time does not reveal which usernames exist.
func (u *Users) Login(ctx context.Context, username, password string) (*domain.Tokens, error) {
	user, err := u.db.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	encoded := ""
	if user != nil {
		encoded = user.PasswordHash
	}
	newHash, ok, err := u.hasher.RehashIfNeeded(ctx, password, encoded)
	if user == nil || !ok {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		u.log.Warn().Err(err).Str("user_id", user.ID).Msg("password rehash failed")
	} else if newHash != user.PasswordHash {
		if err := u.db.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
			u.log.Warn().Err(err).Str("user_id", user.ID).Msg("storing upgraded password hash failed")
		}
	}
	tokens, refreshHash, err := u.issue(user)
	if err != nil {
		return nil, err
	}
	if err := u.db.SetRefreshToken(ctx, user.ID, refreshHash, tokens.RefreshTokenExpiresAt); err != nil {
		return nil, err
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	return tokens, nil
}
func (u *Users) issue(user *domain.User) (*domain.Tokens, string, error) {
	access, accessExp, err := u.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, "", errors.Wrap(err, "issue access token")
	}
	refresh, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, "", errors.Wrap(err, "new refresh token")
	}
	return &domain.Tokens{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: u.now().UTC().Add(u.cfg.RefreshTokenTTL),
	}, refreshHash, nil
}

// Refresh exchanges a live refresh token for a new pair. The swap is a
// conditional update, so of two concurrent refreshes with the same token
// exactly one succeeds.
func (u *Users) Refresh(ctx context.Context, token string) (*domain.Tokens, error) {
	if token == "" {
		return nil, domain.ErrInvalidRefreshToken
	}
	hash := auth.HashRefreshToken(token)
	user, err := u.db.UserByRefreshHash(ctx, hash)
	if errors.Is(err, domain.ErrUserNotFound) {
		u.checkReuse(ctx, hash)
		return nil, domain.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	now := u.now()
	if user.RefreshTokenExpiresAt == nil || !now.Before(*user.RefreshTokenExpiresAt) {
		return nil, domain.ErrInvalidRefreshToken
	}
	tokens, newHash, err := u.issue(user)
	if err != nil {
		return nil, err
	}
	rotated, err := u.db.RotateRefreshToken(ctx, user.ID, hash, newHash, tokens.RefreshTokenExpiresAt, now)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, domain.ErrInvalidRefreshToken
	}
	if u.rdb != nil {
		if err := u.rdb.MarkUsed(ctx, hash, u.cfg.TokenReplayTTL); err != nil {
			u.log.Warn().Err(err).Msg("failed to record rotated refresh token")
		}
	}
	metrics.TokensRefreshed.Inc()
	return tokens, nil
}
func (u *Users) checkReuse(ctx context.Context, hash string) {
	if u.rdb == nil {
		return
	}
	used, err := u.rdb.IsUsed(ctx, hash)
	if err != nil {
		u.log.Warn().Err(err).Msg("refresh token reuse check failed")
		return
	}
	if used {
		metrics.RefreshTokenReuse.Inc()
		u.log.Warn().Str("token_hash", util.RedactToken(hash)).Msg("rotated refresh token presented again")
	}
}
func (u *Users) Logout(ctx context.Context, userID string) error {
	return u.db.ClearRefreshToken(ctx, userID)
}
func (u *Users) ConfirmEmail(ctx context.Context, email, token string) error {
	if email == "" || token == "" {
		return domain.ErrInvalidConfirmationToken
	}
	return u.db.ConfirmEmail(ctx, email, token, u.now())
}
func (u *Users) List(ctx context.Context, page domain.PageReq) (domain.Page[domain.UserSummary], error) {
	rows, err := u.db.ListUsers(ctx, page)
	if err != nil {
		return domain.Page[domain.UserSummary]{}, err
	}
	return domain.NewPage(rows, page), nil
}
func (u *Users) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	user, err := u.db.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := user.Profile()
	return &p, nil
}

// Update applies the non-nil fields. A new email address must be confirmed
// again.
func (u *Users) Update(ctx context.Context, userID string, upd domain.UserUpdate) (*domain.Profile, error) {
	user, err := u.db.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Username != nil {
		if name := strings.TrimSpace(*upd.Username); name != "" && name != user.Username {
			if taken, err := u.db.UsernameTaken(ctx, name, user.ID); err != nil {
				return nil, err
			} else if taken {
				return nil, domain.ErrUsernameTaken
			}
			user.Username = name
		}
	}
	var confirmToken string
	if upd.Email != nil {
		if email := strings.TrimSpace(*upd.Email); email != "" && email != user.Email {
			if taken, err := u.db.EmailTaken(ctx, email, user.ID); err != nil {
				return nil, err
			} else if taken {
				return nil, domain.ErrEmailTaken
			}
			confirmToken = util.NewID()
			expiry := u.now().UTC().Add(u.cfg.EmailConfirmationTTL)
			user.Email = email
			user.EmailConfirmed = false
			user.ConfirmationToken = &confirmToken
			user.ConfirmationTokenExpiry = &expiry
		}
	}
	if upd.Password != nil && *upd.Password != "" {
		hash, err := u.hasher.Hash(ctx, *upd.Password)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
		user.PasswordHash = hash
	}
	if upd.ImageURL != nil {
		if url := strings.TrimSpace(*upd.ImageURL); url == "" {
			user.ImageURL = nil
		} else {
			user.ImageURL = &url
		}
	}
	if err := u.db.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	if confirmToken != "" {
		u.sendConfirmation(user, confirmToken)
	}
	p := user.Profile()
	return &p, nil
}

// Delete removes the user with their pastes, likes and votes. Their comments
// stay behind without an author.
func (u *Users) Delete(ctx context.Context, userID string) error {
	pasteIDs, err := u.db.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	u.pastes.Evict(ctx, pasteIDs...)
	u.log.Info().Str("user_id", userID).Int("pastes", len(pasteIDs)).Msg("user deleted")
	return nil
}
