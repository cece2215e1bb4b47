package metrics
import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)
var (
	UsersRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_users_registered_total",
		Help: "no. of user registrations",
	})
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_login_attempts_total",
			Help: "no. of login attempts by result",
		},
		[]string{"result"},
	)
	TokensRefreshed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_tokens_refreshed_total",
		Help: "no. of successful refresh token rotations",
	})
	RefreshTokenReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_refresh_token_reuse_total",
		Help: "no. of already rotated refresh tokens presented again",
	})
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_cache_hits_total",
			Help: "no. of cache hits",
		},
		[]string{"layer"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_cache_misses_total",
		Help: "no. of lookups that reached the database",
	})
	LikesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_likes_created_total",
		Help: "no. of likes",
	})
	CommentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_comments_created_total",
		Help: "no. of comments and replies",
	})
	Votes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_comment_votes_total",
			Help: "no. of comment vote transitions",
		},
		[]string{"action"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	MailSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_mail_sent_total",
			Help: "no. of outbound mails by result",
		},
		[]string{"result"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_events_published_total",
			Help: "no. of domain events by subject and result",
		},
		[]string{"subject", "result"},
	)
	SecretOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_secret_operations_total",
			Help: "no. of secret lookups and decryptions",
		},
		[]string{"operation"},
	)
	DBCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastebin_db_circuit_state",
		Help: "0 closed, 1 half-open, 2 open",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastebin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
