// internal/handlers/router.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pencilparty/pencilparty/internal/api"
	"github.com/pencilparty/pencilparty/internal/auth"
	"github.com/pencilparty/pencilparty/internal/database"
	"github.com/pencilparty/pencilparty/internal/game"
	"github.com/pencilparty/pencilparty/internal/leaderboard"
	"github.com/pencilparty/pencilparty/internal/middleware"
	"github.com/sirupsen/logrus"
)

// MaxBodyBytes caps request bodies; larger ones get 413 PAYLOAD_TOO_LARGE.
const MaxBodyBytes = 10 << 20

// Cache is the JSON cache the catalog endpoints read through.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// Server holds everything the HTTP handlers depend on. Hub, Cache and Limiter are optional.
type Server struct {
	Store   database.Store
	Issuer  *auth.Issuer
	Tracker *game.Tracker
	Board   *leaderboard.Service
	Hub     *leaderboard.Hub
	Cache   Cache
	Limiter *middleware.RateLimiter

	CatalogTTL  time.Duration
	CORSOrigins []string
	// Dev exposes internal error text in 500 responses.
	Dev     bool
	Version string
	Log     *logrus.Logger
}

// Routes builds the full HTTP surface.
func (s *Server) Routes() http.Handler {
	authn := middleware.NewAuthenticator(s.Issuer, s.Store, s.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.LogMiddleware(s.Log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID", "X-Platform"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.Limiter != nil {
		r.Use(s.Limiter.Handler)
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.login)
			r.Post("/refresh", s.refresh)
			r.Post("/logout", s.logout)

			r.Group(func(r chi.Router) {
				r.Use(authn.Required)
				r.Get("/me", s.me)
				r.Put("/profile", s.updateProfile)
				r.Delete("/account", s.deleteAccount)
			})
		})

		r.Route("/games", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authn.Optional)
				r.Get("/types", s.gameTypes)
				r.Get("/popular", s.popularGames)
				r.Get("/leaderboard", s.leaderboard)
				r.Get("/leaderboard/live", s.liveLeaderboard)
			})

			r.Group(func(r chi.Router) {
				r.Use(authn.Required)
				r.Post("/start", s.startGame)
				r.Post("/finish", s.finishGame)
				r.Get("/records", s.records)
				r.Get("/stats", s.stats)
			})
		})
	})

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	api.WriteError(w, api.NewError(http.StatusNotFound, api.CodeNotFound, "endpoint not found"))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeRaw(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "server is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.Version,
	})
}
