package api

import (
	"net/http"
	"pastebin/svc/svc"

	"github.com/go-chi/chi/v5"
)

type commentHdl struct {
	comments *svc.Comments
	votes    *svc.Votes
}

type commentReq struct {
	Content  string  `json:"content" validate:"required,max=300"`
	ParentID *string `json:"parentId"`
}
type editCommentReq struct {
	Content string `json:"content" validate:"required,max=300"`
}
type voteReq struct {
	IsUpvote *bool `json:"isUpvote" validate:"required"`
}

func (h *commentHdl) Create(w http.ResponseWriter, r *http.Request) {
	var req commentReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.comments.Create(r.Context(), chi.URLParam(r, "pasteId"), userID(r), req.Content, req.ParentID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
func (h *commentHdl) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.comments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
func (h *commentHdl) ByPaste(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.comments.ListByPaste(r.Context(), chi.URLParam(r, "pasteId"), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
func (h *commentHdl) ByUser(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.comments.ListByUser(r.Context(), chi.URLParam(r, "userId"), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
func (h *commentHdl) Update(w http.ResponseWriter, r *http.Request) {
	var req editCommentReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.comments.Update(r.Context(), chi.URLParam(r, "id"), userID(r), req.Content)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
func (h *commentHdl) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.comments.Delete(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
func (h *commentHdl) Vote(w http.ResponseWriter, r *http.Request) {
	var req voteReq
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.votes.Vote(r.Context(), userID(r), chi.URLParam(r, "id"), *req.IsUpvote)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
