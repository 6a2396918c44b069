package site

import (
	"context"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/zettelstack/internal/navigator"
)

// Session is the viewer session driven over HTTP. *navigator.Navigator
// satisfies it.
type Session interface {
	Open(ctx context.Context, raw string) error
	FollowLink(ctx context.Context, level int, href string) (bool, error)
	OpenGraphNode(ctx context.Context, level int, nodeID string) (bool, error)
	Back(ctx context.Context) (bool, error)
	Forward(ctx context.Context) (bool, error)
	Idle(ctx context.Context) error
	Snapshot(ctx context.Context) (navigator.Snapshot, error)
}

// SettleTimeout bounds how long an action waits for the stack to settle.
const SettleTimeout = 10 * time.Second

// SessionHandler exposes a Session.
type SessionHandler struct {
	sess Session
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sess Session) *SessionHandler {
	return &SessionHandler{sess: sess}
}

func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, op string, resp ActionResponse) {
	ctx, cancel := context.WithTimeout(r.Context(), SettleTimeout)
	defer cancel()
	if err := h.sess.Idle(ctx); err != nil {
		writeError(w, op, err)
		return
	}
	snap, err := h.sess.Snapshot(ctx)
	if err != nil {
		writeError(w, op, err)
		return
	}
	resp.Session = snap
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/session.
//
//	@Summary		Current viewer session
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	navigator.Snapshot
//	@Security		BearerAuth
//	@Router			/session [get]
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sess.Snapshot(r.Context())
	if err != nil {
		writeError(w, "session snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Open handles POST /api/session/open.
//
//	@Summary		Load an address in the viewer session
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenRequest	true	"Address"
//	@Success		200		{object}	ActionResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session/open [post]
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Address, validation.Required),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.sess.Open(r.Context(), req.Address); err != nil {
		writeError(w, "session open", err)
		return
	}
	h.respond(w, r, "session open", ActionResponse{Opened: true})
}

// Follow handles POST /api/session/follow.
//
//	@Summary		Click a link inside a panel
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FollowRequest	true	"Panel level and href"
//	@Success		200		{object}	ActionResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session/follow [post]
func (h *SessionHandler) Follow(w http.ResponseWriter, r *http.Request) {
	var req FollowRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Level, validation.Required, validation.Min(1)),
		validation.Field(&req.Href, validation.Required),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	opened, err := h.sess.FollowLink(r.Context(), req.Level, req.Href)
	if err != nil {
		writeError(w, "session follow", err)
		return
	}
	h.respond(w, r, "session follow", ActionResponse{Opened: opened})
}

// GraphNode handles POST /api/session/graph.
//
//	@Summary		Double-click a graph node inside a panel
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GraphNodeRequest	true	"Panel level and node id"
//	@Success		200		{object}	ActionResponse
//	@Security		BearerAuth
//	@Router			/session/graph [post]
func (h *SessionHandler) GraphNode(w http.ResponseWriter, r *http.Request) {
	var req GraphNodeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Level, validation.Required, validation.Min(1)),
		validation.Field(&req.Node, validation.Required),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	opened, err := h.sess.OpenGraphNode(r.Context(), req.Level, req.Node)
	if err != nil {
		writeError(w, "session graph", err)
		return
	}
	h.respond(w, r, "session graph", ActionResponse{Opened: opened})
}

// Back handles POST /api/session/back.
func (h *SessionHandler) Back(w http.ResponseWriter, r *http.Request) {
	moved, err := h.sess.Back(r.Context())
	if err != nil {
		writeError(w, "session back", err)
		return
	}
	h.respond(w, r, "session back", ActionResponse{Moved: moved})
}

// Forward handles POST /api/session/forward.
func (h *SessionHandler) Forward(w http.ResponseWriter, r *http.Request) {
	moved, err := h.sess.Forward(r.Context())
	if err != nil {
		writeError(w, "session forward", err)
		return
	}
	h.respond(w, r, "session forward", ActionResponse{Moved: moved})
}
