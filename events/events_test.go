package events_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/events"
)

func TestEmitOrderAndPayloads(t *testing.T) {
	bus := events.NewBus()
	var got []string

	bus.OnLogin(func() { got = append(got, "login-1") })
	bus.OnLogin(func() { got = append(got, "login-2") })
	bus.OnLogout(func() { got = append(got, "logout") })

	var tag string
	var cause error
	bus.OnError(func(t string, err error) { tag, cause = t, err })

	var extended time.Duration
	bus.OnSessionExtended(func(d time.Duration) { extended = d })

	bus.Emit(events.Login{})
	require.Equal(t, []string{"login-1", "login-2"}, got)

	boom := errors.New("boom")
	bus.Emit(events.Error{Tag: "login", Err: boom})
	require.Equal(t, "login", tag)
	require.ErrorIs(t, cause, boom)

	bus.Emit(events.SessionExtended{ExpiresIn: 30 * time.Second})
	require.Equal(t, 30*time.Second, extended)
	require.Equal(t, []string{"login-1", "login-2"}, got, "only listeners of the emitted kind run")
}

func TestListenerAddedDuringDispatch(t *testing.T) {
	bus := events.NewBus()
	calls := 0
	bus.OnSessionExpired(func() {
		bus.OnSessionExpired(func() { calls++ })
	})

	bus.Emit(events.SessionExpired{})
	require.Equal(t, 0, calls)
	bus.Emit(events.SessionExpired{})
	require.Equal(t, 1, calls)
}

func TestClose(t *testing.T) {
	bus := events.NewBus()
	calls := 0
	bus.OnLogout(func() { calls++ })
	bus.Close()
	bus.Emit(events.Logout{})
	bus.OnLogout(func() { calls++ })
	bus.Emit(events.Logout{})
	require.Equal(t, 0, calls)

	var nilBus *events.Bus
	require.NotPanics(t, func() { nilBus.Emit(events.Login{}) })
}

func TestPointerEventsReachTypedListeners(t *testing.T) {
	bus := events.NewBus()
	failure := errors.New("boom")
	var gotTag string
	var gotErr error
	var gotExpiry time.Duration
	bus.OnError(func(tag string, err error) {
		gotTag, gotErr = tag, err
	})
	bus.OnSessionExtended(func(expiresIn time.Duration) { gotExpiry = expiresIn })

	require.NotPanics(t, func() {
		bus.Emit(&events.Error{Tag: "login", Err: failure})
		bus.Emit(&events.SessionExtended{ExpiresIn: time.Minute})
		bus.Emit(nil)
	})
	require.Equal(t, "login", gotTag)
	require.ErrorIs(t, gotErr, failure)
	require.Equal(t, time.Minute, gotExpiry)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "sessionExtended", events.KindSessionExtended.String())
	require.Equal(t, "error", events.Error{}.Kind().String())
}
