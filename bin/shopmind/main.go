package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/server"
	"github.com/shopmind/shopmind/store"
	"github.com/shopmind/shopmind/store/db"
)

const version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "shopmind",
		Short: `A resumable store analytics agent for WooCommerce shops.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the agent HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				return err
			}
			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				_ = storeInstance.Close()
				return err
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				_ = storeInstance.Close()
				return err
			}
			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			<-ctx.Done()
			return nil
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			storeInstance, err := openStore(cmd.Context(), instanceProfile)
			if err != nil {
				return err
			}
			slog.Info("database migrated", "driver", instanceProfile.Driver)
			return storeInstance.Close()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)
	viper.SetDefault("db-tls-mode", "verify-full")

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver: sqlite, mysql or postgres")
	flags.String("dsn", "", "database source name (aka. DSN)")
	flags.String("db-tls-mode", "verify-full", "TLS mode for network databases: disable, require or verify-full")
	flags.String("db-tls-root-cert", "", "CA bundle used to verify the database certificate")
	flags.Bool("db-tls-insecure-skip-verify", false, "skip database certificate verification")
	flags.StringSlice("mcp-endpoint", nil, "MCP server URL whose tools are offered to the agent (repeatable)")
	flags.Int("max-tool-rounds", profile.DefaultMaxToolRounds, "tool-call rounds allowed per turn")
	flags.Duration("approval-timeout", profile.DefaultApprovalTimeout, "time a tool call waits for approval before it is denied")
	flags.Duration("sandbox-timeout", profile.DefaultSandboxTimeout, "wall-clock limit of one code interpreter run")
	flags.Float64("store-rps", 0, "store API requests per second per client, 0 disables pacing")

	for _, name := range []string{
		"mode", "addr", "port", "data", "driver", "dsn",
		"db-tls-mode", "db-tls-root-cert", "db-tls-insecure-skip-verify",
		"mcp-endpoint", "max-tool-rounds", "approval-timeout", "sandbox-timeout", "store-rps",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("shopmind")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:                    viper.GetString("mode"),
		Addr:                    viper.GetString("addr"),
		Port:                    viper.GetInt("port"),
		Data:                    viper.GetString("data"),
		Driver:                  viper.GetString("driver"),
		DSN:                     viper.GetString("dsn"),
		DBTLSMode:               viper.GetString("db-tls-mode"),
		DBTLSRootCert:           viper.GetString("db-tls-root-cert"),
		DBTLSInsecureSkipVerify: viper.GetBool("db-tls-insecure-skip-verify"),
		MCPEndpoints:            viper.GetStringSlice("mcp-endpoint"),
		MaxToolRounds:           viper.GetInt("max-tool-rounds"),
		ApprovalTimeout:         viper.GetDuration("approval-timeout"),
		SandboxTimeout:          viper.GetDuration("sandbox-timeout"),
		StoreRequestsPerSecond:  viper.GetFloat64("store-rps"),
		Version:                 version,
	}
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		slog.Error("failed to create db driver", "error", err)
		return nil, err
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		slog.Error("failed to migrate", "error", err)
		return nil, err
	}
	return storeInstance, nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("shopmind %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\nDatabase driver: %s\nMode: %s\n", p.Data, p.Driver, p.Mode)
	if len(p.MCPEndpoints) > 0 {
		fmt.Printf("MCP tool registries: %v\n", p.MCPEndpoints)
	}
	fmt.Printf("Server running on port %d\n", p.Port)
}

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
