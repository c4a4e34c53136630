// Package httpapi - HTTP/JSON транспорт сервиса заказов.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

// OrderService - операции конвейера, которые нужны транспорту.
type OrderService interface {
	Create(ctx context.Context, req intake.Request) (orders.CreateResult, error)
	UpdateStatus(ctx context.Context, id string, patch domain.StatusPatch) (orders.StatusResult, error)
	Track(ctx context.Context, reference string, id orders.Identity) (orders.TrackView, error)
	Receipt(ctx context.Context, reference string, id orders.Identity) ([]byte, string, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	Stats(ctx context.Context) (orders.Stats, error)
}

// Config - параметры транспорта.
type Config struct {
	// AdminToken - статический bearer-токен администратора. Пустой отключает этот способ.
	AdminToken string
	// JWTSecret - ключ HS256 для подписанных токенов администратора. Пустой отключает этот способ.
	JWTSecret string

	// Ограничение приёма заказов на один IP.
	RateLimitRPS   float64
	RateLimitBurst int

	// MaxBodyBytes ограничивает тело запроса; подтверждение оплаты приходит в base64.
	MaxBodyBytes int64
	// RequestTimeout - общий тайм-аут обработки запроса.
	RequestTimeout time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		RateLimitRPS:   1,
		RateLimitBurst: 5,
		MaxBodyBytes:   8 << 20,
		RequestTimeout: 60 * time.Second,
	}
}

// Server собирает маршруты и обработчики.
type Server struct {
	cfg      Config
	svc      OrderService
	health   *health.Handler
	gatherer prometheus.Gatherer
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	limiter  *ipLimiter
	auth     *adminAuth
}

// Options - необязательные зависимости сервера.
type Options struct {
	Health   *health.Handler
	Gatherer prometheus.Gatherer
	Metrics  *metrics.OrderMetrics
	Logger   *log.Entry
}

// NewServer создаёт HTTP-сервер заказов.
func NewServer(cfg Config, svc OrderService, opts Options) *Server {
	defaults := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaults.RateLimitBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	healthHandler := opts.Health
	if healthHandler == nil {
		healthHandler = health.NewHandler("")
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      cfg,
		svc:      svc,
		health:   healthHandler,
		gatherer: gatherer,
		metrics:  opts.Metrics,
		logger:   logger,
		limiter:  newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		auth:     newAdminAuth(cfg.AdminToken, cfg.JWTSecret),
	}
}

// Routes возвращает корневой обработчик.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/livez", health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)
	r.Method(http.MethodGet, "/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			for _, path := range []string{"/orders", "/orders/create", "/api/orders", "/checkout"} {
				r.Post(path, s.createOrder)
			}
		})

		r.Get("/orders/track", s.trackOrder)
		r.Get("/orders/receipt.pdf", s.orderReceipt)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Patch("/orders/{id}", s.updateOrder)
			r.Get("/orders/{id}/timeline", s.orderTimeline)
			r.Get("/admin/orders/stats", s.orderStats)
		})
	})

	return r
}
