package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LeadLedger/app/controllers"
)

// Deps carries what the routers need. LimiterStorage may be nil, in which case
// the limiter keeps its counters in process memory.
type Deps struct {
	Ledger   *controllers.LedgerController
	Admin    *controllers.AdminController
	Internal *controllers.InternalController
	Billing  *controllers.BillingController

	JWTSecret     []byte
	InternalToken string

	LimiterStorage    fiber.Storage
	LimiterMax        int
	LimiterExpiration time.Duration
}
