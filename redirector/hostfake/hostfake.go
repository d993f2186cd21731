// Package hostfake is a scriptable redirector.Host for tests.
package hostfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-client/redirector"
)

// AuthorizeFunc plays the identity provider: it gets the authorization URL and returns the
// final redirect URL.
type AuthorizeFunc func(authURL string) (string, error)

type Host struct {
	callbackURL string
	authorize   AuthorizeFunc

	mu       sync.Mutex
	launches []redirector.FlowDetails
	// OnLaunch runs before authorize, e.g. to inspect storage at launch time.
	OnLaunch func(details redirector.FlowDetails)
}

var _ redirector.Host = (*Host)(nil)

func New(callbackURL string, authorize AuthorizeFunc) *Host {
	return &Host{callbackURL: callbackURL, authorize: authorize}
}

func (h *Host) CallbackURL() string {
	return h.callbackURL
}

func (h *Host) LaunchAuthFlow(ctx context.Context, details redirector.FlowDetails) (string, error) {
	h.mu.Lock()
	h.launches = append(h.launches, details)
	onLaunch := h.OnLaunch
	h.mu.Unlock()

	if onLaunch != nil {
		onLaunch(details)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return h.authorize(details.URL)
}

func (h *Host) Launches() []redirector.FlowDetails {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]redirector.FlowDetails(nil), h.launches...)
}
