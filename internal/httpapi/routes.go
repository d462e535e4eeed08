package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/series-draft/internal/auth"
	"github.com/DoyleJ11/series-draft/internal/hub"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Options struct {
	Auth           *auth.Authenticator
	OriginPatterns []string
	Logger         *zap.SugaredLogger
}

func SetupRoutes(h *hub.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if opts.Auth == nil {
		// No signing key: tokens are refused and every caller is anonymous.
		opts.Auth = auth.New("", 0)
	}
	wsAuth := opts.Auth
	if !wsAuth.Enabled() {
		wsAuth = nil
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(opts.Auth.Middleware)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, ws.Options{Auth: wsAuth, OriginPatterns: opts.OriginPatterns}))
	r.Post("/sessions", CreateSession(h))
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", GetSession(h))
		r.Post("/participants", JoinSession(h))
		r.With(auth.RequireUser).Post("/participants/{participantID}/link", LinkParticipant(h))
	})

	// Signed-in routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)
		r.Get("/me/sessions", MySessions(h))
	})
	return r
}
