package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/limiter"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/metrics"
	"fanchat/internal/pkg/resp"
)

const (
	AuthorizeRate  = 0.5
	AuthorizeBurst = 5
	ConnectRate    = 0.2
	ConnectBurst   = 5
)

// Router builds the HTTP surface of the chat-serving process. ctx bounds the background
// cleanup of the rate limiters.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	authorizeLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(AuthorizeRate), AuthorizeBurst)
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "traceparent"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", HandleHealth("chat"))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/chat", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))
		api.Use(jwt.RequireIdentity)
		api.Use(authorizeLimiter.Middleware)

		api.Post("/authorizations", HandleDispatchAuthorization(deps))
		api.Get("/authorizations/{correlationId}", HandleAwaitAuthorization(deps))

		api.Post("/{kind}/rooms", HandleCreateRoom(deps))
		api.Post("/{kind}/rooms/{roomId}/join", HandleJoinRoom(deps))
	})

	r.Get("/ws/{roomId}", HandleWebSocket(deps, wsUpgrader, connectLimiter))

	return r
}

// HandleHealth reports liveness of the named service.
func HandleHealth(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]string{
			"status":  "ok",
			"service": service,
		})
	}
}

// OpsRouter serves only /health and /metrics, for the decision process.
func OpsRouter(service string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", HandleHealth(service))
	r.Handle("/metrics", metrics.Handler())
	return r
}
