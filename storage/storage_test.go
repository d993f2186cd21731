package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/bbolt"
	"github.com/jrsteele09/go-auth-client/storage/enclave"
	"github.com/jrsteele09/go-auth-client/storage/memory"
	"github.com/jrsteele09/go-auth-client/storage/sealed"
)

func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	boltStore, err := bbolt.NewStoreFromFile(filepath.Join(t.TempDir(), "data", "login.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = boltStore.Close() })

	return map[string]storage.Store{
		"memory":  memory.New(),
		"enclave": enclave.New(),
		"sealed":  sealed.New(memory.New()),
		"bbolt":   boltStore,
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v1"))
			require.NoError(t, s.Set(ctx, "k", "v2"))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "v2", v)

			require.NoError(t, s.Set(ctx, "empty", ""))
			v, ok, err = s.Get(ctx, "empty")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "", v)

			require.NoError(t, s.Delete(ctx, "k"))
			require.NoError(t, s.Delete(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestSealedStoreHidesPlaintext(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	s := sealed.New(backend)

	require.NoError(t, s.Set(ctx, "secret", "client-secret-value"))
	raw, ok, err := backend.Get(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, raw, "client-secret-value")

	// ciphertext is bound to its key
	require.NoError(t, backend.Set(ctx, "other", raw))
	_, _, err = s.Get(ctx, "other")
	require.Error(t, err)
}

func TestUtilityGetSetForUser(t *testing.T) {
	ctx := context.Background()
	u := storage.NewDefaultUtility()

	require.NoError(t, u.SetForUser(ctx, "session-1", map[string]string{"issuer": "https://idp", "dpop": "true"}, storage.Options{}))
	require.NoError(t, u.SetForUser(ctx, "session-1", map[string]string{"webId": "https://me"}, storage.Options{}))
	require.NoError(t, u.SetForUser(ctx, "session-1", map[string]string{"clientSecret": "s3cret"}, storage.Options{Secure: true}))

	v, err := u.GetForUser(ctx, "session-1", "issuer", storage.Options{})
	require.NoError(t, err)
	require.Equal(t, "https://idp", v)

	data, err := u.GetUserData(ctx, "session-1", storage.Options{})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"issuer": "https://idp", "dpop": "true", "webId": "https://me"}, data)

	// partitions are independent
	v, err = u.GetForUser(ctx, "session-1", "clientSecret", storage.Options{})
	require.NoError(t, err)
	require.Empty(t, v)
	v, err = u.GetForUser(ctx, "session-1", "clientSecret", storage.Options{Secure: true})
	require.NoError(t, err)
	require.Equal(t, "s3cret", v)
}

func TestUtilityErrorIfNull(t *testing.T) {
	u := storage.NewDefaultUtility()
	_, err := u.GetForUser(context.Background(), "nobody", "codeVerifier", storage.Options{ErrorIfNull: true})
	require.ErrorIs(t, err, internalerrors.ErrNotFound)
	require.Contains(t, err.Error(), "codeVerifier")
	require.Contains(t, err.Error(), "nobody")
}

func TestUtilityDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	secure, insecure := memory.New(), memory.New()
	u := storage.NewUtility(secure, insecure)

	require.NoError(t, u.SetForUser(ctx, "s", map[string]string{"a": "1", "b": "2"}, storage.Options{}))
	require.NoError(t, u.SetForUser(ctx, "s", map[string]string{"c": "3"}, storage.Options{Secure: true}))

	require.NoError(t, u.DeleteForUser(ctx, "s", "a", storage.Options{}))
	data, err := u.GetUserData(ctx, "s", storage.Options{})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"b": "2"}, data)

	require.NoError(t, u.DeleteForUser(ctx, "s", "b", storage.Options{}))
	require.Equal(t, 0, insecure.Len(), "an empty object is removed")

	require.NoError(t, u.Clear(ctx, "s"))
	require.Equal(t, 0, secure.Len())
}
