package api

import (
	"net/http"
	"pastebin/pkg/domain"
	"pastebin/svc/svc"

	"github.com/rs/zerolog/hlog"
)

type userHdl struct {
	users *svc.Users
}

type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}
type loginReq struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=128"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}
type updateUserReq struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=30"`
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Password *string `json:"password" validate:"omitempty,min=6,max=100"`
	ImageURL *string `json:"imageUrl" validate:"omitempty,url,max=2048"`
}

func (h *userHdl) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
func (h *userHdl) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	tokens, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}
func (h *userHdl) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	tokens, err := h.users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}
func (h *userHdl) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.users.ConfirmEmail(r.Context(), q.Get("email"), q.Get("token")); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
func (h *userHdl) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Logout(r.Context(), userID(r)); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
func (h *userHdl) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.users.List(r.Context(), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
func (h *userHdl) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.users.Get(r.Context(), userID(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
func (h *userHdl) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateUserReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.users.Update(r.Context(), userID(r), domain.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
func (h *userHdl) DeleteMe(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if err := h.users.Delete(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("user_id", id).Msg("account deleted")
	w.WriteHeader(http.StatusNoContent)
}
