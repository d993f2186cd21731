// Package storage splits persisted login state into a secure and an insecure partition.
// Each user (a session id, or a state value during a flow) owns one JSON object per partition.
package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/storage/enclave"
	"github.com/jrsteele09/go-auth-client/storage/memory"
)

const userKeyPrefix = "oidcLoginUser:"

// Store is a flat string key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type Options struct {
	Secure      bool
	ErrorIfNull bool
}

// Utility reads and writes per-user values across both partitions.
type Utility struct {
	secure   Store
	insecure Store
	mu       sync.Mutex
}

func NewUtility(secure, insecure Store) *Utility {
	return &Utility{secure: secure, insecure: insecure}
}

// NewDefaultUtility keeps secure data in memguard enclaves and insecure data in process memory.
func NewDefaultUtility() *Utility {
	return NewUtility(enclave.New(), memory.New())
}

func userKey(userID string) string {
	return userKeyPrefix + userID
}

func (u *Utility) store(opts Options) Store {
	if opts.Secure {
		return u.secure
	}
	return u.insecure
}

// GetUserData returns every value stored for userID in the selected partition.
func (u *Utility) GetUserData(ctx context.Context, userID string, opts Options) (map[string]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.load(ctx, userID, opts)
}

func (u *Utility) load(ctx context.Context, userID string, opts Options) (map[string]string, error) {
	raw, ok, err := u.store(opts).Get(ctx, userKey(userID))
	if err != nil {
		return nil, errors.Wrapf(err, "[Utility.load] reading data for user %s", userID)
	}
	data := map[string]string{}
	if !ok || raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, errors.Wrapf(err, "[Utility.load] data for user %s is not a JSON object", userID)
	}
	return data, nil
}

func (u *Utility) save(ctx context.Context, userID string, data map[string]string, opts Options) error {
	if len(data) == 0 {
		return u.store(opts).Delete(ctx, userKey(userID))
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "[Utility.save] json.Marshal")
	}
	return u.store(opts).Set(ctx, userKey(userID), string(raw))
}

// GetForUser returns "" when the value is missing, or ErrNotFound if opts.ErrorIfNull is set.
func (u *Utility) GetForUser(ctx context.Context, userID, key string, opts Options) (string, error) {
	data, err := u.GetUserData(ctx, userID, opts)
	if err != nil {
		return "", err
	}
	value, ok := data[key]
	if !ok && opts.ErrorIfNull {
		return "", internalerrors.Wrapf(internalerrors.ErrNotFound, "field [%s] for user [%s] is not stored", key, userID)
	}
	return value, nil
}

// SetForUser merges values into the user's existing data.
func (u *Utility) SetForUser(ctx context.Context, userID string, values map[string]string, opts Options) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, err := u.load(ctx, userID, opts)
	if err != nil {
		return err
	}
	for k, v := range values {
		data[k] = v
	}
	return u.save(ctx, userID, data, opts)
}

func (u *Utility) DeleteForUser(ctx context.Context, userID, key string, opts Options) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, err := u.load(ctx, userID, opts)
	if err != nil {
		return err
	}
	delete(data, key)
	return u.save(ctx, userID, data, opts)
}

func (u *Utility) DeleteAllUserData(ctx context.Context, userID string, opts Options) error {
	return u.store(opts).Delete(ctx, userKey(userID))
}

// Clear removes the user's data from both partitions.
func (u *Utility) Clear(ctx context.Context, userID string) error {
	if err := u.DeleteAllUserData(ctx, userID, Options{Secure: true}); err != nil {
		return err
	}
	return u.DeleteAllUserData(ctx, userID, Options{Secure: false})
}
