package pgwire_test

import (
	"testing"
	"time"

	"github.com/oxleaf/pgwire"
	"github.com/stretchr/testify/require"
)

func TestParseConfigTimeoutsAndGSSEncMode(t *testing.T) {
	cfg, err := pgwire.ParseConfig("sslmode=disable host=127.0.0.1 port=5432 user=test database=test " +
		"socketTimeout=30 cancelSignalTimeout=10 loginTimeout=5 gssencmode=prefer")
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.SocketTimeout)
	require.Equal(t, 10*time.Second, cfg.CancelSignalTimeout)
	require.Equal(t, 5*time.Second, cfg.LoginTimeout)
	require.Equal(t, "prefer", cfg.GSSEncMode)
}

func TestParseConfigGSSEncModeDefaultsToDisable(t *testing.T) {
	cfg, err := pgwire.ParseConfig("sslmode=disable host=127.0.0.1 port=5432 user=test database=test")
	require.NoError(t, err)

	require.Equal(t, "disable", cfg.GSSEncMode)
	require.Nil(t, cfg.GSSAPI)
}

func TestParseConfigRejectsInvalidSocketTimeout(t *testing.T) {
	_, err := pgwire.ParseConfig("sslmode=disable host=127.0.0.1 port=5432 user=test database=test socketTimeout=not-a-number")
	require.Error(t, err)
}
