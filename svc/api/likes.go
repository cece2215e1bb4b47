package api

import (
	"net/http"
	"pastebin/svc/svc"

	"github.com/go-chi/chi/v5"
)

type likeHdl struct {
	likes *svc.Likes
}

func (h *likeHdl) Like(w http.ResponseWriter, r *http.Request) {
	l, err := h.likes.Like(r.Context(), userID(r), chi.URLParam(r, "pasteId"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}
func (h *likeHdl) Unlike(w http.ResponseWriter, r *http.Request) {
	if err := h.likes.Unlike(r.Context(), userID(r), chi.URLParam(r, "pasteId")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
func (h *likeHdl) ByPaste(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.likes.ListByPaste(r.Context(), chi.URLParam(r, "pasteId"), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
func (h *likeHdl) Mine(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.likes.ListByUser(r.Context(), userID(r), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
