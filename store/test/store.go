package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/store"
	"github.com/shopmind/shopmind/store/db"
)

// NewTestingStore opens a migrated SQLite store in a temp dir.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		Data:   dir,
		DSN:    filepath.Join(dir, "shopmind_test.db"),
	}
	return openStore(ctx, t, p)
}

func openStore(ctx context.Context, t *testing.T, p *profile.Profile) *store.Store {
	t.Helper()
	driver, err := db.NewDBDriver(p)
	if err != nil {
		fmt.Printf("failed to create db driver, error: %+v\n", err)
		t.FailNow()
	}
	if err := driver.Migrate(ctx); err != nil {
		fmt.Printf("failed to migrate db, error: %+v\n", err)
		t.FailNow()
	}
	s := store.New(driver, p)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dockerEnabled() bool {
	return os.Getenv("SHOPMIND_TEST_DOCKER") == "1"
}
