package token_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustQuery(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	v := u.Query().Get(key)
	require.NotEmpty(t, v, "%s missing from %s", key, rawURL)
	return v
}
