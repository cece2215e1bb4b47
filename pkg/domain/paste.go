package domain
import (
	"time"
)
type Paste struct {
	ID           string     `json:"id" db:"id"`
	Title        string     `json:"title" db:"title"`
	Content      string     `json:"content" db:"content"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	IsPrivate    bool       `json:"isPrivate" db:"is_private"`
	PasswordHash *string    `json:"-" db:"password_hash"`
	UserID       *string    `json:"userId,omitempty" db:"user_id"`
}

// Cached copies keep the hash so private access can be checked without the db.
type CachedPaste struct {
	Paste
	PasswordHash *string `json:"passwordHash,omitempty"`
}

func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}
func (p *Paste) OwnedBy(userID string) bool {
	return userID != "" && p.UserID != nil && *p.UserID == userID
}

type PasteSummary struct {
	ID        string     `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	IsPrivate bool       `json:"isPrivate" db:"is_private"`
	UserID    *string    `json:"userId,omitempty" db:"user_id"`
	Likes     int        `json:"likes" db:"likes"`
}

type CreateParams struct {
	OwnerID   string
	Title     string
	Content   string
	IsPrivate bool
	Password  string
	ExpiresIn time.Duration
}

type PasteUpdate struct {
	Title     *string
	Content   *string
	IsPrivate *bool
	Password  *string
}

func NewCachedPaste(p *Paste) *CachedPaste {
	return &CachedPaste{Paste: *p, PasswordHash: p.PasswordHash}
}
func (c *CachedPaste) Unwrap() *Paste {
	p := c.Paste
	p.PasswordHash = c.PasswordHash
	return &p
}

// CacheTTL caps ttl so a cached copy never outlives the paste.
func (p *Paste) CacheTTL(ttl time.Duration, now time.Time) time.Duration {
	if p.ExpiresAt == nil {
		return ttl
	}
	if left := p.ExpiresAt.Sub(now); left < ttl {
		return left
	}
	return ttl
}
