package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the agent server.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Addr is the binding address for server.
	Addr string
	// Port is the binding port for server.
	Port int
	// Data is the data directory.
	Data string
	// Driver is the database driver: sqlite, mysql or postgres.
	Driver string
	// DSN points to where the agent stores its data.
	DSN string
	// DBTLSMode is the TLS mode for network databases: disable, require or verify-full.
	DBTLSMode string
	// DBTLSRootCert is an optional CA bundle used to verify the database certificate.
	DBTLSRootCert string
	// DBTLSInsecureSkipVerify disables certificate verification. Only for environments
	// whose database presents an unverifiable certificate; must be set explicitly.
	DBTLSInsecureSkipVerify bool
	// MCPEndpoints are tool registry servers whose tools are offered to the agent.
	MCPEndpoints []string
	// MaxToolRounds caps the tool-call rounds of one turn.
	MaxToolRounds int
	// ApprovalTimeout is how long a tool call waits for approval before it is denied.
	ApprovalTimeout time.Duration
	// SandboxTimeout is the wall-clock limit of one code interpreter run.
	SandboxTimeout time.Duration
	// StoreRequestsPerSecond paces store API requests per bound client; 0 disables pacing.
	StoreRequestsPerSecond float64
	Version                string
}

const (
	DefaultMaxToolRounds   = 10
	DefaultApprovalTimeout = 5 * time.Minute
	DefaultSandboxTimeout  = 50 * time.Second
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate fills defaults and checks the profile.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	switch p.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}
	switch p.DBTLSMode {
	case "":
		p.DBTLSMode = "verify-full"
	case "disable", "require", "verify-full":
	default:
		return errors.Errorf("unsupported database TLS mode %q", p.DBTLSMode)
	}
	if p.MaxToolRounds <= 0 {
		p.MaxToolRounds = DefaultMaxToolRounds
	}
	if p.ApprovalTimeout <= 0 {
		p.ApprovalTimeout = DefaultApprovalTimeout
	}
	if p.SandboxTimeout <= 0 {
		p.SandboxTimeout = DefaultSandboxTimeout
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "shopmind")
		} else {
			p.Data = "/var/opt/shopmind"
		}
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("shopmind_%s.db", p.Mode))
	}
	if p.Driver != "sqlite" && p.DSN == "" {
		return errors.Errorf("a DSN is required for driver %s", p.Driver)
	}
	return nil
}
