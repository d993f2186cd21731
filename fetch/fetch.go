// Package fetch holds the transports a session issues HTTP requests through.
package fetch

import "net/http"

// Transport performs requests on behalf of a session.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
	// Close stops background work such as scheduled refreshes.
	Close()
}

type unauthenticated struct {
	client *http.Client
}

// Unauthenticated passes requests through unchanged.
func Unauthenticated(client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return unauthenticated{client: client}
}

func (u unauthenticated) Do(req *http.Request) (*http.Response, error) {
	return u.client.Do(req)
}

func (unauthenticated) Close() {}

// IsAuthenticated reports whether t adds credentials to requests.
func IsAuthenticated(t Transport) bool {
	_, ok := t.(*Authenticated)
	return ok
}
