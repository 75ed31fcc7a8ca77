// Package httpapi exposes the JSON API, third-party webhooks and the admin API over chi.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/photostudio/internal/domain"
	"github.com/Proton-105/photostudio/internal/generation"
	"github.com/Proton-105/photostudio/internal/idempotency"
	"github.com/Proton-105/photostudio/internal/lifecycle"
	"github.com/Proton-105/photostudio/internal/middleware"
	"github.com/Proton-105/photostudio/internal/repository"
	"github.com/Proton-105/photostudio/pkg/config"
	"github.com/Proton-105/photostudio/pkg/logger"
)

const (
	maxWebhookBody    = 1 << 20
	defaultUploadSize = 10 << 20
)

type Users interface {
	Get(ctx context.Context, id int64) (*domain.User, error)
	List(ctx context.Context, page repository.Page) ([]domain.User, int, error)
	AdjustCredits(ctx context.Context, id int64, delta int) (int, error)
}

type Generation interface {
	CreateAvatar(ctx context.Context, userID int64, name string) (*domain.Avatar, error)
	GetAvatar(ctx context.Context, id int64) (*domain.Avatar, error)
	ListAvatars(ctx context.Context, userID int64) ([]domain.Avatar, error)
	DeleteAvatar(ctx context.Context, userID, avatarID int64) error
	AddReferenceURL(ctx context.Context, userID, avatarID int64, rawURL string) (*domain.ReferencePhoto, error)
	AddReferenceUpload(ctx context.Context, userID, avatarID int64, data []byte, contentType string) (*domain.ReferencePhoto, error)
	ListReferencePhotos(ctx context.Context, avatarID int64) ([]domain.ReferencePhoto, error)
	MarkAvatarReady(ctx context.Context, userID, avatarID int64) (*domain.Avatar, error)
	Start(ctx context.Context, req generation.Request) (*domain.GenerationTask, error)
	GetTask(ctx context.Context, id int64) (*domain.GenerationTask, error)
	ListTasks(ctx context.Context, status domain.TaskStatus, page repository.Page) ([]domain.GenerationTask, error)
	ListUserPhotos(ctx context.Context, userID int64, page repository.Page) ([]domain.GeneratedPhoto, error)
	Poll(ctx context.Context, taskID int64) error
	HandleCallback(ctx context.Context, body []byte) error
}

type Payments interface {
	Packages() []domain.CreditPackage
	Currency() string
	CreatePayment(ctx context.Context, userID int64, packageID string) (*domain.Payment, error)
	HandleWebhook(ctx context.Context, body []byte) error
}

type Referrals interface {
	Stats(ctx context.Context, userID int64) (*domain.ReferralStats, error)
	Earnings(ctx context.Context, userID int64, page repository.Page) ([]domain.ReferralEarning, error)
	Apply(ctx context.Context, userID int64, code string) (int64, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, text string) (sent, failed int, err error)
}

// SignatureVerifier checks the Upstash-Signature header of a QStash delivery.
type SignatureVerifier interface {
	Verify(signature string, body []byte) error
}

// Deps are the services the API is built on. Telegram is nil when the bot polls.
type Deps struct {
	Users         Users
	Generation    Generation
	Payments      Payments
	Referrals     Referrals
	Broadcaster   Broadcaster
	Notifications repository.NotificationRepository
	WebhookLogs   repository.WebhookLogRepository
	Stats         repository.StatsRepository
	Messages      idempotency.MessageStore
	Verifier      SignatureVerifier
	Probes        lifecycle.HealthChecker
	Telegram      http.Handler
	Log           *slog.Logger
}

// Server holds the route handlers.
type Server struct {
	Deps
	cfg config.Config
	log *slog.Logger
}

// NewRouter builds the complete HTTP handler.
func NewRouter(cfg config.Config, deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{Deps: deps, cfg: cfg, log: log.With(slog.String("component", "http"))}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(middleware.HTTPMetrics)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/webhooks", func(wh chi.Router) {
			wh.Post("/qstash", s.handleQStash)
			wh.Post("/kie", s.handleKIECallback)
			wh.Post("/yookassa", s.handleYooKassa)
			if deps.Telegram != nil {
				wh.Method(http.MethodPost, "/telegram", deps.Telegram)
			}
		})

		api.Group(func(pub chi.Router) {
			pub.Use(cors.Handler(cors.Options{
				AllowedOrigins: cfg.Server.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
				MaxAge:         300,
			}))
			if cfg.Server.RequestsPerMin > 0 {
				pub.Use(httprate.Limit(cfg.Server.RequestsPerMin, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(s.handleTooManyRequests),
				))
			}
			s.publicRoutes(pub)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(chimw.BasicAuth("photostudio-admin", map[string]string{
				cfg.Admin.Username: cfg.Admin.Password,
			}))
			s.adminRoutes(admin)
		})
	})

	return r
}

func (s *Server) publicRoutes(r chi.Router) {
	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetUser)
		r.Get("/avatars", s.handleListUserAvatars)
		r.Get("/photos", s.handleListUserPhotos)
		r.Get("/referral", s.handleReferralStats)
		r.Get("/referral/earnings", s.handleReferralEarnings)
		r.Post("/referral/apply", s.handleApplyReferral)
	})

	r.Post("/avatars", s.handleCreateAvatar)
	r.Route("/avatars/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetAvatar)
		r.Delete("/", s.handleDeleteAvatar)
		r.Get("/photos", s.handleListReferencePhotos)
		r.Post("/photos", s.handleAddReferencePhoto)
		r.Post("/ready", s.handleMarkAvatarReady)
	})

	r.Post("/generations", s.handleStartGeneration)
	r.Get("/generations/{id}", s.handleGetGeneration)

	r.Get("/packages", s.handleListPackages)
	r.Post("/payments", s.handleCreatePayment)
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Get("/stats", s.handleAdminStats)
	r.Get("/users", s.handleAdminListUsers)
	r.Get("/users/{id}", s.handleGetUser)
	r.Post("/users/{id}/credits", s.handleAdminAdjustCredits)
	r.Get("/tasks", s.handleAdminListTasks)
	r.Get("/notifications", s.handleAdminListNotifications)
	r.Post("/notifications/{id}/read", s.handleAdminMarkRead)
	r.Get("/webhook-logs", s.handleAdminWebhookLogs)
	r.Get("/processed-messages", s.handleAdminProcessedMessages)
	r.Post("/broadcast", s.handleAdminBroadcast)
	r.Delete("/avatars/{id}", s.handleAdminDeleteAvatar)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.Probes != nil {
		if err := s.Probes.Liveness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.Probes != nil {
		if err := s.Probes.Readiness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleTooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: "E500"})
}
