package db

import (
	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/store"
	"github.com/shopmind/shopmind/store/db/mysql"
	"github.com/shopmind/shopmind/store/db/postgres"
	"github.com/shopmind/shopmind/store/db/sqlite"
	"github.com/shopmind/shopmind/store/db/tlsconfig"
)

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	tls := tlsconfig.Config{
		Mode:               tlsconfig.Mode(profile.DBTLSMode),
		RootCertFile:       profile.DBTLSRootCert,
		InsecureSkipVerify: profile.DBTLSInsecureSkipVerify,
	}
	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "mysql":
		driver, err = mysql.NewDB(profile, tls)
	case "postgres":
		driver, err = postgres.NewDB(profile, tls)
	default:
		return nil, errors.New("unknown db driver")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
