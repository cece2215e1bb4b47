package domain

import "time"

type User struct {
	ID                      string     `db:"id"`
	Username                string     `db:"username"`
	Email                   string     `db:"email"`
	PasswordHash            string     `db:"password_hash"`
	ImageURL                *string    `db:"image_url"`
	CreatedAt               time.Time  `db:"created_at"`
	RefreshTokenHash        *string    `db:"refresh_token_hash"`
	RefreshTokenExpiresAt   *time.Time `db:"refresh_token_expires_at"`
	EmailConfirmed          bool       `db:"email_confirmed"`
	ConfirmationToken       *string    `db:"confirmation_token"`
	ConfirmationTokenExpiry *time.Time `db:"confirmation_token_expires_at"`
}

// Profile is the public view of a user.
type Profile struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	ImageURL       *string   `json:"imageUrl,omitempty"`
	EmailConfirmed bool      `json:"emailConfirmed"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		ImageURL:       u.ImageURL,
		EmailConfirmed: u.EmailConfirmed,
		CreatedAt:      u.CreatedAt,
	}
}

type UserSummary struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type UserUpdate struct {
	Username *string
	Email    *string
	Password *string
	ImageURL *string
}

// Tokens is returned from login and refresh.
type Tokens struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}
