package site

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// sess, if non-nil, is exposed under /session.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler, sess Session) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Link index.
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)
	r.Get("/graph/*", h.Graph)

	if sess != nil {
		sh := NewSessionHandler(sess)
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sh.Get)
			r.Post("/open", sh.Open)
			r.Post("/follow", sh.Follow)
			r.Post("/graph", sh.GraphNode)
			r.Post("/back", sh.Back)
			r.Post("/forward", sh.Forward)
		})
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
