// Package server wires the store, the agent runner and the HTTP API together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/plugin/mcpregistry"
	"github.com/shopmind/shopmind/plugin/vectorstore"
	"github.com/shopmind/shopmind/server/agent"
	"github.com/shopmind/shopmind/server/agent/toolkit"
	apiv1 "github.com/shopmind/shopmind/server/router/api/v1"
	"github.com/shopmind/shopmind/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Runner  *agent.Runner

	echoServer *echo.Echo
	httpServer *http.Server
}

// NewServer builds the agent runtime from the profile. Model keys and store
// credentials arrive with each request and are never part of the profile.
func NewServer(_ context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	vectorDir := profile.Data
	if profile.IsDev() {
		vectorDir = ""
	}
	vectors, err := vectorstore.New(vectorDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open vector store")
	}

	assembler := toolkit.NewAssembler(
		toolkit.WithRegistry(mcpregistry.New(profile.MCPEndpoints, profile.Version)),
		toolkit.WithVectorStore(vectors),
		toolkit.WithSandboxTimeout(profile.SandboxTimeout),
		toolkit.WithStoreRateLimit(profile.StoreRequestsPerSecond),
	)
	runner := agent.NewRunner(store, assembler,
		agent.WithMaxToolRounds(profile.MaxToolRounds),
		agent.WithApprovalGate(agent.NewApprovalGate(profile.ApprovalTimeout)),
	)

	s := &Server{
		Profile: profile,
		Store:   store,
		Runner:  runner,
	}

	echoServer := echo.New()
	echoServer.Use(middleware.Recover())
	apiv1.NewAPIV1Service(profile, store, runner).RegisterRoutes(echoServer)
	s.echoServer = echoServer
	s.httpServer = &http.Server{Handler: echoServer}

	return s, nil
}

// Handler exposes the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	// Shutdown echo server.
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	// Close database connection.
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}

	slog.Info("shopmind stopped properly")
}
