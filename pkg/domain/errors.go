package domain
import (
	"github.com/pkg/errors"
	"net/http"
	"time"
)

var (
	ErrUserNotFound             = NewErr("USER_NOT_FOUND", "user not found", http.StatusNotFound)
	ErrPasteNotFound            = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrCommentNotFound          = NewErr("COMMENT_NOT_FOUND", "comment not found", http.StatusNotFound)
	ErrLikeNotFound             = NewErr("LIKE_NOT_FOUND", "like not found", http.StatusNotFound)
	ErrUsernameTaken            = NewErr("USERNAME_TAKEN", "username already exists", http.StatusConflict)
	ErrEmailTaken               = NewErr("EMAIL_TAKEN", "email already exists", http.StatusConflict)
	ErrLikeExists               = NewErr("LIKE_EXISTS", "like already exists", http.StatusConflict)
	ErrVoteConflict             = NewErr("VOTE_CONFLICT", "vote changed concurrently", http.StatusConflict)
	ErrInvalidCredentials       = NewErr("INVALID_CREDENTIALS", "invalid username or password", http.StatusUnauthorized)
	ErrInvalidRefreshToken      = NewErr("INVALID_REFRESH_TOKEN", "invalid or expired refresh token", http.StatusUnauthorized)
	ErrInvalidToken             = NewErr("INVALID_TOKEN", "invalid or expired access token", http.StatusUnauthorized)
	ErrUnauthorized             = NewErr("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrEmailNotConfirmed        = NewErr("EMAIL_NOT_CONFIRMED", "email not confirmed", http.StatusForbidden)
	ErrPasswordRequired         = NewErr("PASSWORD_REQUIRED", "password is required for private pastes", http.StatusBadRequest)
	ErrParentMismatch           = NewErr("PARENT_MISMATCH", "parent comment belongs to another paste", http.StatusBadRequest)
	ErrInvalidConfirmationToken = NewErr("INVALID_CONFIRMATION_TOKEN", "invalid or expired confirmation token", http.StatusBadRequest)
	ErrPasteTooLarge            = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrInvalidDuration          = NewErr("INVALID_DURATION", "invalid duration", http.StatusBadRequest)
	ErrInvalidRequest           = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrRateLimitExceeded        = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternalServer           = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrUnavailable              = NewErr("SERVICE_UNAVAILABLE", "service temporarily unavailable", http.StatusServiceUnavailable)
)
type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}
func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// WithMsg returns a copy carrying a more specific message, e.g. the failing
// validation field. The code and status are kept.
func (e *Err) WithMsg(msg string) *Err {
	return &Err{Code: e.Code, Msg: msg, Status: e.Status}
}

// Is matches on code so copies from WithMsg still compare equal.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && t.Code == e.Code
}

type Problem struct {
	Status    int       `json:"status"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Instance  string    `json:"instance"`
	TraceID   string    `json:"traceId"`
	Timestamp time.Time `json:"timestamp"`
}

func AsErr(err error) (*Err, bool) {
	if e, ok := err.(*Err); ok {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}
func ToProblem(err error, instance, traceID string, now time.Time) Problem {
	p := Problem{
		Status:    http.StatusInternalServerError,
		Title:     ErrInternalServer.Code,
		Instance:  instance,
		TraceID:   traceID,
		Timestamp: now.UTC(),
	}
	if e, ok := AsErr(err); ok {
		p.Status = e.Status
		p.Title = e.Code
		if e.Status < http.StatusInternalServerError {
			p.Detail = e.Msg
		}
	}
	return p
}
func Status(err error) int {
	if e, ok := AsErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
