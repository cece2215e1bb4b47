package auth

import (
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type Claims struct {
	UniqueName     string `json:"unique_name"`
	Name           string `json:"name"`
	EmailConfirmed bool   `json:"email_confirmed"`
	jwt.RegisteredClaims
}

// UserID is the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// TokenService signs and checks HS256 access tokens.
type TokenService struct {
	mu       sync.RWMutex
	key      []byte
	issuer   string
	audience string
	expiry   time.Duration
	now      func() time.Time
}

func NewTokenService(key []byte, issuer, audience string, expiry time.Duration) (*TokenService, error) {
	if len(key) < 32 {
		return nil, errors.New("jwt signing key must be at least 32 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &TokenService{
		key:      k,
		issuer:   issuer,
		audience: audience,
		expiry:   expiry,
		now:      time.Now,
	}, nil
}

// IssueAccessToken signs a token for u valid for the configured expiry.
func (s *TokenService) IssueAccessToken(u *domain.User) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.expiry)
	claims := Claims{
		UniqueName:     u.Username,
		Name:           u.Username,
		EmailConfirmed: u.EmailConfirmed,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        util.NewID(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	key := s.currentKey()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	util.Wipe(key)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign access token")
	}
	return signed, exp, nil
}

// ValidateAccessToken returns domain.ErrInvalidToken for any signature, alg,
// issuer, audience or lifetime failure. There is no clock leeway.
func (s *TokenService) ValidateAccessToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.currentKey(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// currentKey copies the key so Rotate can wipe the old one while it is
// still being used.
func (s *TokenService) currentKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := make([]byte, len(s.key))
	copy(k, s.key)
	return k
}

// Rotate replaces the signing key. Tokens signed with the old key stop
// validating.
func (s *TokenService) Rotate(key []byte) error {
	if len(key) < 32 {
		return errors.New("jwt signing key must be at least 32 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	s.mu.Lock()
	old := s.key
	s.key = k
	s.mu.Unlock()
	util.Wipe(old)
	return nil
}
func (s *TokenService) Expiry() time.Duration { return s.expiry }
