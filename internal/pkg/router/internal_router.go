package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/middleware"
)

// InternalRouter serves service-to-service calls. It is meant to be reachable
// from the private network only; the shared token is the second line.
type InternalRouter struct {
	deps Deps
}

func (h InternalRouter) InstallRouter(app *fiber.App) {
	internal := app.Group("/internal", middleware.RequireInternalToken(h.deps.InternalToken))
	internal.Post("/accounts/:id/trial", h.deps.Internal.HandleTrialClaim)
}

func NewInternalRouter(deps Deps) *InternalRouter {
	return &InternalRouter{deps: deps}
}
