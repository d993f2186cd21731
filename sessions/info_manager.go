package sessions

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/storage"
)

// Storage keys of the per-session record.
const (
	KeySessionID      = "sessionId"
	KeyCodeVerifier   = "codeVerifier"
	KeyIssuer         = "issuer"
	KeyRedirectURL    = "redirectUrl"
	KeyDPoP           = "dpop"
	KeyKeepAlive      = "keepAlive"
	KeyStartedAt      = "flowStartedAt"
	KeyWebID          = "webId"
	KeyIsLoggedIn     = "isLoggedIn"
	KeyClientID       = "clientId"
	KeyExpirationDate = "expirationDate"
	KeyRefreshToken   = "refreshToken"
)

var (
	insecure = storage.Options{}
	secure   = storage.Options{Secure: true}
)

// InfoManager reads and writes session state through the storage utility.
type InfoManager struct {
	storage *storage.Utility
}

func NewInfoManager(s *storage.Utility) *InfoManager {
	return &InfoManager{storage: s}
}

// Get returns the stored info for sessionID, or nil when nothing is stored for it.
func (m *InfoManager) Get(ctx context.Context, sessionID string) (*Info, error) {
	data, err := m.storage.GetUserData(ctx, sessionID, insecure)
	if err != nil {
		return nil, errors.Wrap(err, "[InfoManager.Get]")
	}
	if len(data) == 0 {
		return nil, nil
	}
	info := Unauthenticated(sessionID)
	info.IsLoggedIn = utils.ParseBool(data[KeyIsLoggedIn])
	info.WebID = data[KeyWebID]
	info.ClientAppID = data[KeyClientID]
	if ms, err := strconv.ParseInt(data[KeyExpirationDate], 10, 64); err == nil {
		info.ExpirationDate = time.UnixMilli(ms)
	}
	return &info, nil
}

// Update persists the identity of a completed login.
func (m *InfoManager) Update(ctx context.Context, info Info) error {
	values := map[string]string{
		KeyIsLoggedIn: utils.FormatBool(info.IsLoggedIn),
		KeyWebID:      info.WebID,
		KeyClientID:   info.ClientAppID,
	}
	if !info.ExpirationDate.IsZero() {
		values[KeyExpirationDate] = strconv.FormatInt(info.ExpirationDate.UnixMilli(), 10)
	}
	return errors.Wrap(m.storage.SetForUser(ctx, info.SessionID, values, insecure), "[InfoManager.Update]")
}

// Clear removes everything stored for the session from both partitions.
func (m *InfoManager) Clear(ctx context.Context, sessionID string) error {
	return errors.Wrap(m.storage.Clear(ctx, sessionID), "[InfoManager.Clear]")
}

func (m *InfoManager) SaveFlow(ctx context.Context, sessionID string, flow FlowRecord) error {
	if err := m.storage.SetForUser(ctx, sessionID, map[string]string{KeyCodeVerifier: flow.CodeVerifier}, secure); err != nil {
		return errors.Wrap(err, "[InfoManager.SaveFlow] storing verifier")
	}
	err := m.storage.SetForUser(ctx, sessionID, map[string]string{
		KeyIssuer:      flow.Issuer,
		KeyRedirectURL: flow.RedirectURL,
		KeyDPoP:        utils.FormatBool(flow.DPoP),
		KeyKeepAlive:   utils.FormatBool(flow.KeepAlive),
		KeyStartedAt:   flow.StartedAt.UTC().Format(time.RFC3339),
	}, insecure)
	return errors.Wrap(err, "[InfoManager.SaveFlow]")
}

// LoadFlow fails with ErrNotFound when no flow is pending for the session.
func (m *InfoManager) LoadFlow(ctx context.Context, sessionID string) (*FlowRecord, error) {
	verifier, err := m.storage.GetForUser(ctx, sessionID, KeyCodeVerifier, storage.Options{Secure: true, ErrorIfNull: true})
	if err != nil {
		return nil, err
	}
	data, err := m.storage.GetUserData(ctx, sessionID, insecure)
	if err != nil {
		return nil, errors.Wrap(err, "[InfoManager.LoadFlow]")
	}
	for _, key := range []string{KeyIssuer, KeyRedirectURL} {
		if data[key] == "" {
			return nil, internalerrors.Wrapf(internalerrors.ErrNotFound, "field [%s] for user [%s] is not stored", key, sessionID)
		}
	}
	flow := &FlowRecord{
		CodeVerifier: verifier,
		Issuer:       data[KeyIssuer],
		RedirectURL:  data[KeyRedirectURL],
		DPoP:         utils.ParseBool(data[KeyDPoP]),
		KeepAlive:    utils.ParseBool(data[KeyKeepAlive]),
	}
	if started, err := time.Parse(time.RFC3339, data[KeyStartedAt]); err == nil {
		flow.StartedAt = started
	}
	return flow, nil
}

// ClearFlow drops the verifier so an authorization code cannot be redeemed twice.
func (m *InfoManager) ClearFlow(ctx context.Context, sessionID string) error {
	return errors.Wrap(m.storage.DeleteForUser(ctx, sessionID, KeyCodeVerifier, secure), "[InfoManager.ClearFlow]")
}

func (m *InfoManager) SaveState(ctx context.Context, state string, record StateRecord) error {
	err := m.storage.SetForUser(ctx, state, map[string]string{KeySessionID: record.SessionID}, insecure)
	return errors.Wrap(err, "[InfoManager.SaveState]")
}

// SessionForState fails with ErrNotFound for a state no flow was started with.
func (m *InfoManager) SessionForState(ctx context.Context, state string) (string, error) {
	return m.storage.GetForUser(ctx, state, KeySessionID, storage.Options{ErrorIfNull: true})
}

func (m *InfoManager) ClearState(ctx context.Context, state string) error {
	return errors.Wrap(m.storage.DeleteAllUserData(ctx, state, insecure), "[InfoManager.ClearState]")
}

func (m *InfoManager) SaveRefreshToken(ctx context.Context, sessionID, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	err := m.storage.SetForUser(ctx, sessionID, map[string]string{KeyRefreshToken: refreshToken}, secure)
	return errors.Wrap(err, "[InfoManager.SaveRefreshToken]")
}

// RefreshToken returns "" when none is stored.
func (m *InfoManager) RefreshToken(ctx context.Context, sessionID string) (string, error) {
	return m.storage.GetForUser(ctx, sessionID, KeyRefreshToken, secure)
}
