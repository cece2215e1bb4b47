package api

import (
	"net/http"
	"pastebin/pkg/domain"
	"pastebin/svc/svc"
	"pastebin/svc/util"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type pasteHdl struct {
	pastes *svc.Pastes
	// maxBody leaves room for JSON escaping of a MAX_PASTE_SIZE body.
	maxBody int64
}

func newPasteHdl(pastes *svc.Pastes, maxPasteSize int64) *pasteHdl {
	limit := 2*maxPasteSize + 16<<10
	if limit < maxBodySize {
		limit = maxBodySize
	}
	return &pasteHdl{pastes: pastes, maxBody: limit}
}

type createPasteReq struct {
	Title     string `json:"title" validate:"required,max=100"`
	Content   string `json:"content" validate:"required"`
	IsPrivate bool   `json:"isPrivate"`
	Password  string `json:"password" validate:"omitempty,min=8,max=128"`
	// ExpiresIn is a Go duration such as "1h"; empty never expires.
	ExpiresIn string `json:"expiresIn"`
}
type updatePasteReq struct {
	Title     *string `json:"title" validate:"omitempty,min=1,max=100"`
	Content   *string `json:"content"`
	IsPrivate *bool   `json:"isPrivate"`
	Password  *string `json:"password" validate:"omitempty,min=8,max=128"`
}

func (h *pasteHdl) Create(w http.ResponseWriter, r *http.Request) {
	var req createPasteReq
	if err := decodeLimited(w, r, &req, h.maxBody); err != nil {
		writeErr(w, r, err)
		return
	}
	var ttl time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			writeErr(w, r, domain.ErrInvalidDuration)
			return
		}
		ttl = d
	}
	p, err := h.pastes.Create(r.Context(), domain.CreateParams{
		OwnerID:   userID(r),
		Title:     req.Title,
		Content:   req.Content,
		IsPrivate: req.IsPrivate,
		Password:  req.Password,
		ExpiresIn: ttl,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().
		Str("paste_id", p.ID).
		Bool("private", p.IsPrivate).
		Str("ttl", ttl.String()).
		Msg("paste created")
	writeJSON(w, http.StatusCreated, p)
}
func (h *pasteHdl) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.pastes.Get(r.Context(), id, userID(r), r.Header.Get("X-Password"))
	if err != nil {
		if r.Header.Get("X-Password") != "" {
			hlog.FromRequest(r).Warn().
				Str("paste_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("failed password attempt")
		}
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
func (h *pasteHdl) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.pastes.List(r.Context(), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
func (h *pasteHdl) Mine(w http.ResponseWriter, r *http.Request) {
	page, err := pageReq(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.pastes.ListByOwner(r.Context(), userID(r), page)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
func (h *pasteHdl) Update(w http.ResponseWriter, r *http.Request) {
	var req updatePasteReq
	if err := decodeLimited(w, r, &req, h.maxBody); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.pastes.Update(r.Context(), chi.URLParam(r, "id"), userID(r), domain.PasteUpdate{
		Title:     req.Title,
		Content:   req.Content,
		IsPrivate: req.IsPrivate,
		Password:  req.Password,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
func (h *pasteHdl) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.pastes.Delete(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
