package api

import (
	"context"
	"net/http"
	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/auth"
	"pastebin/svc/db"
	"pastebin/svc/lim"
	"pastebin/svc/svc"
	"pastebin/svc/util"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	pinger     pinger
	httpServer *http.Server
	log        zerolog.Logger
}

// pinger is any optional dependency /ready reports on, e.g. the event bus.
type pinger interface {
	Ping(ctx context.Context) error
}

type Opts struct {
	Cfg      *cfg.Cfg
	Services *svc.Services
	Limiter  *lim.Limiter
	Tokens   *auth.TokenService
	DB       *db.SQLite
	Redis    *db.Redis
	Events   pinger
	Log      zerolog.Logger
}

func NewServer(o Opts) *Server {
	c := o.Cfg
	s := &Server{cfg: c, db: o.DB, rdb: o.Redis, pinger: o.Events, log: o.Log}
	r := chi.NewRouter()
	mw := NewMw(o.Limiter, o.Tokens, c)
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	if c.Environment == "development" {
		r.Mount("/debug", middleware.Profiler())
	}

	// per-IP throttle on credential endpoints, on top of the shared limiter
	authThrottle := httprate.Limit(c.RateLimit.AuthPerMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return lim.GetRealIP(r, c.TrustedProxies), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeErr(w, r, domain.ErrRateLimitExceeded)
		}),
	)
	users := &userHdl{users: o.Services.Users}
	pastes := newPasteHdl(o.Services.Pastes, c.MaxPasteSize)
	likes := &likeHdl{likes: o.Services.Likes}
	comments := &commentHdl{comments: o.Services.Comments, votes: o.Services.Votes}

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(o.Log))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.Recoverer)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS())
		r.Use(mw.Observe)

		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authThrottle, mw.RateLimit("auth"))
				r.Post("/register", users.Register)
				r.Post("/login", users.Login)
				r.Post("/refresh-token", users.Refresh)
				r.Get("/confirm-email", users.ConfirmEmail)
			})
			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimit("read"), mw.RequireAuth)
				r.Post("/logout", users.Logout)
				r.Get("/", users.List)
				r.Get("/me", users.Me)
				r.Put("/me", users.UpdateMe)
				r.Delete("/me", users.DeleteMe)
			})
		})
		r.Route("/pastes", func(r chi.Router) {
			r.With(mw.RateLimit("write"), mw.OptionalAuth).Post("/", pastes.Create)
			r.With(mw.RateLimit("read")).Get("/", pastes.List)
			r.With(mw.RateLimit("read"), mw.RequireAuth, mw.RequireConfirmedEmail).Get("/my-pastes", pastes.Mine)
			r.With(mw.RateLimit("read"), mw.OptionalAuth).Get("/{id}", pastes.Get)
			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimit("write"), mw.RequireAuth, mw.RequireConfirmedEmail)
				r.Put("/{id}", pastes.Update)
				r.Delete("/{id}", pastes.Delete)
			})
		})
		r.Route("/likes", func(r chi.Router) {
			r.With(mw.RateLimit("read"), mw.RequireAuth).Get("/my-likes", likes.Mine)
			r.With(mw.RateLimit("read")).Get("/paste/{pasteId}", likes.ByPaste)
			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimit("write"), mw.RequireAuth)
				r.Post("/paste/{pasteId}", likes.Like)
				r.Delete("/paste/{pasteId}", likes.Unlike)
			})
		})
		r.Route("/comments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimit("read"))
				r.Get("/paste/{pasteId}", comments.ByPaste)
				r.Get("/user/{userId}", comments.ByUser)
				r.Get("/{id}", comments.Get)
			})
			r.Group(func(r chi.Router) {
				r.Use(mw.RateLimit("write"), mw.RequireAuth)
				r.Post("/paste/{pasteId}", comments.Create)
				r.Put("/{id}", comments.Update)
				r.Delete("/{id}", comments.Delete)
				r.With(mw.RequireConfirmedEmail).Post("/{id}/vote", comments.Vote)
			})
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	s.log.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
