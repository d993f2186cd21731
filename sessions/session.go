package sessions

import (
	"time"
)

// Info is the public view of a session. It is a value: holders get a snapshot and the
// session replaces it wholesale on every change.
type Info struct {
	SessionID      string    // Opaque, stable session identifier
	IsLoggedIn     bool      // True between a successful login and logout/expiry
	WebID          string    // Identity URL of the logged in user, if any
	ClientAppID    string    // Client id the session logged in with
	ExpirationDate time.Time // Access token expiry; zero when unknown
}

// Unauthenticated is the info of a session that is not logged in. It never carries
// anything over from an earlier login.
func Unauthenticated(sessionID string) Info {
	return Info{SessionID: sessionID}
}

// FlowRecord is persisted per session while an authorization round trip is pending.
// It is written before the user is sent to the identity provider and consumed by the
// redirect handler.
type FlowRecord struct {
	CodeVerifier string    // PKCE verifier, kept in the secure partition
	RedirectURL  string    // Callback URL registered for this login
	Issuer       string    // Identity provider the flow was started against
	DPoP         bool      // Whether tokens are to be DPoP-bound
	KeepAlive    bool      // Whether the session refreshes its tokens in the background
	StartedAt    time.Time // When the flow was started
}

// StateRecord maps the state parameter of an authorization request back to its session.
type StateRecord struct {
	SessionID string
}
