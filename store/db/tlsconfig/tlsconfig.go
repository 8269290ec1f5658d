// Package tlsconfig describes how a database connection negotiates TLS. The
// configuration is passed to a single driver constructor and never changes
// process-wide TLS behaviour.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
)

// Mode follows the libpq sslmode names.
type Mode string

const (
	// ModeDisable connects in plain text.
	ModeDisable Mode = "disable"
	// ModeRequire encrypts the connection but does not verify the server
	// certificate, matching libpq's sslmode=require. Setting RootCertFile does not
	// turn verification on; use ModeVerifyFull for that.
	ModeRequire Mode = "require"
	// ModeVerifyFull verifies the certificate chain and the server host name.
	ModeVerifyFull Mode = "verify-full"
)

type Config struct {
	Mode         Mode
	RootCertFile string
	// InsecureSkipVerify keeps TLS but skips certificate verification. It is a
	// workaround for databases behind unverifiable certificates and must be opted into.
	InsecureSkipVerify bool
}

// Enabled reports whether the connection should use TLS at all.
func (c Config) Enabled() bool {
	return c.Mode != ModeDisable
}

// Verify reports whether the server certificate must be verified.
func (c Config) Verify() bool {
	return c.Enabled() && !c.InsecureSkipVerify && c.Mode != ModeRequire
}

// TLS builds the *tls.Config for serverName, or nil when TLS is disabled.
func (c Config) TLS(serverName string) (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
		// #nosec G402 -- sslmode=require semantics or an explicit opt-out in the profile.
		InsecureSkipVerify: !c.Verify(),
	}
	if c.RootCertFile != "" {
		pem, err := os.ReadFile(c.RootCertFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read database root certificate")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in database root certificate file")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
