package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/sessions"
)

// SessionLogout ends a session locally.
type SessionLogout interface {
	Handle(ctx context.Context, sessionID string) error
}

// LogoutHandler forgets everything stored for a session. The identity provider session is
// left untouched.
type LogoutHandler struct {
	sessions *sessions.InfoManager
}

var _ SessionLogout = (*LogoutHandler)(nil)

func NewLogoutHandler(infoManager *sessions.InfoManager) *LogoutHandler {
	return &LogoutHandler{sessions: infoManager}
}

func (h *LogoutHandler) Handle(ctx context.Context, sessionID string) error {
	log.Debug().Str("sessionId", sessionID).Msg("clearing session")
	return h.sessions.Clear(ctx, sessionID)
}
