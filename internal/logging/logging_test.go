package logging_test

import (
	"bytes"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logging.Init("warn", false, &buf)
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	require.Empty(t, buf.String())

	log.Warn().Str("sessionId", "abc").Msg("visible")
	require.Contains(t, buf.String(), `"sessionId":"abc"`)
}

func TestInitUnknownLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	logging.Init("chatty", true, &bytes.Buffer{})
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
