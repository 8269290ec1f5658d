// Package v1 exposes the agent runtime over HTTP.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/shopmind/shopmind/internal/profile"
	"github.com/shopmind/shopmind/server/agent"
	"github.com/shopmind/shopmind/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Runner  *agent.Runner
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, runner *agent.Runner) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Store:   store,
		Runner:  runner,
	}
}

// RegisterRoutes mounts every v1 route on e.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.healthz)
	s.registerAgentRoutes(e)
}

func (s *APIV1Service) healthz(c *echo.Context) error {
	return c.String(http.StatusOK, "Service ready.")
}
