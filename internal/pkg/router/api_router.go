package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/middleware"
)

const webhookPath = "/api/v1/billing/webhook/stripe"

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        h.deps.LimiterMax,
		Expiration: h.deps.LimiterExpiration,
		Storage:    h.deps.LimiterStorage,
		// Stripe delivers from a handful of addresses and must never be throttled.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), webhookPath)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "too_many_requests",
				"message": "rate limit exceeded",
			})
		},
	}))
	v1 := api.Group("/v1")

	// Signed by Stripe; no bearer token. Registered ahead of the authed group so
	// its middleware never runs for this route.
	v1.Post("/billing/webhook/stripe", h.deps.Billing.HandleStripeWebhook)

	authed := v1.Group("", middleware.AccountContextMiddleware(h.deps.JWTSecret), middleware.RequireAuth)
	authed.Get("/plans", h.deps.Ledger.HandleListPlans)
	authed.Get("/wallet", h.deps.Ledger.HandleWallet)
	authed.Get("/wallet/entries", h.deps.Ledger.HandleEntries)
	authed.Get("/jobs", h.deps.Ledger.HandleListJobs)
	authed.Post("/jobs/:id/unlock", h.deps.Ledger.HandleUnlockJob)
	authed.Post("/add-ons/:type/redeem", h.deps.Ledger.HandleRedeemAddOn)
	authed.Post("/subscription/auto-renew", h.deps.Ledger.HandleToggleAutoRenew)
	authed.Post("/subscription/cancel", h.deps.Ledger.HandleScheduleCancel)

	admin := authed.Group("/admin", middleware.RequireAdmin)
	admin.Get("/accounts/:id/wallet", h.deps.Admin.HandleWallet)
	admin.Get("/accounts/:id/entries", h.deps.Admin.HandleEntries)
	admin.Post("/accounts/:id/add-ons", h.deps.Admin.HandleGrantAddOn)
	admin.Post("/accounts/:id/credits", h.deps.Admin.HandleAdjustCredits)
	admin.Post("/accounts/:id/restore", h.deps.Admin.HandleRestore)
	admin.Post("/sweepers/:name/run", h.deps.Admin.HandleRunSweeper)
	admin.Post("/jobs", h.deps.Admin.HandleCreateJob)
	admin.Post("/jobs/:id/post", h.deps.Admin.HandlePostJob)
	admin.Post("/jobs/:id/decline", h.deps.Admin.HandleDeclineJob)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
