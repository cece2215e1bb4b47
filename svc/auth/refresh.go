package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
)

const refreshTokenBytes = 32

// NewRefreshToken returns an opaque token for the client and the hash that
// gets stored.
func NewRefreshToken() (token, hash string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", errors.Wrap(err, "generate refresh token")
	}
	token = base64.StdEncoding.EncodeToString(b)
	return token, HashRefreshToken(token), nil
}
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
