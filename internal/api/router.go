package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/roomrelay/internal/middleware"
)

// Routes are the handlers mounted by NewRouter. Webhook may be nil when the bot
// uses long polling.
type Routes struct {
	Handler *Handler
	Events  *EventStream
	Webhook http.Handler

	// AllowedOrigins enables CORS for browser dashboards when non-empty.
	AllowedOrigins []string
}

// NewRouter builds the HTTP router.
func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	if len(routes.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(routes.AllowedOrigins))
	}

	routes.Handler.RegisterRoutes(r)
	r.Get("/ws/events", routes.Events.ServeHTTP)
	if routes.Webhook != nil {
		r.Method(http.MethodPost, "/telegram/webhook", routes.Webhook)
	}
	return r
}
