package tlsconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	disabled := Config{Mode: ModeDisable}
	cfg, err := disabled.TLS("db.local")
	require.NoError(t, err)
	require.Nil(t, cfg)

	verified := Config{Mode: ModeVerifyFull}
	cfg, err = verified.TLS("db.local")
	require.NoError(t, err)
	require.False(t, cfg.InsecureSkipVerify)
	require.Equal(t, "db.local", cfg.ServerName)

	optedOut := Config{Mode: ModeVerifyFull, InsecureSkipVerify: true}
	cfg, err = optedOut.TLS("db.local")
	require.NoError(t, err)
	require.True(t, cfg.InsecureSkipVerify)

	// require encrypts without verifying, like libpq.
	required := Config{Mode: ModeRequire}
	require.True(t, required.Enabled())
	require.False(t, required.Verify())
	cfg, err = required.TLS("db.local")
	require.NoError(t, err)
	require.True(t, cfg.InsecureSkipVerify)

	_, err = Config{Mode: ModeRequire, RootCertFile: "/does/not/exist.pem"}.TLS("db.local")
	require.Error(t, err)
}
