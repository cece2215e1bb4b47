package api

import (
	"encoding/json"
	"net/http"
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"time"

	"github.com/rs/zerolog/hlog"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr renders err as a problem document. Anything that is not a domain
// error is logged in full and surfaced as a bare 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	requestID := util.GetRequestID(r.Context())
	p := domain.ToProblem(err, r.Method+" "+r.URL.Path, requestID, time.Now())
	log := hlog.FromRequest(r)
	if _, ok := domain.AsErr(err); ok && p.Status < http.StatusInternalServerError {
		log.Warn().Err(err).Int("status", p.Status).Str("request_id", requestID).Msg("request failed")
	} else {
		log.Error().Err(err).Int("status", p.Status).Str("request_id", requestID).Msg("internal error")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}
