package usercontext

import "github.com/gofiber/fiber/v2"

const RoleAdmin = "admin"

// AccountContext represents the caller of a request
type AccountContext struct {
	AccountID        uint   `json:"account_id"`
	BillingAccountID uint   `json:"billing_account_id"`
	Role             string `json:"role"`
	IsAuthenticated  bool   `json:"is_authenticated"`
	IsAdmin          bool   `json:"is_admin"`
}

// Set stores ctx on the request, including the flat compatibility locals.
func Set(c *fiber.Ctx, ctx AccountContext) {
	c.Locals(KeyAccountContext, ctx)
	c.Locals(KeyAuthenticated, ctx.IsAuthenticated)
	c.Locals(KeyAccountID, ctx.AccountID)
	c.Locals(KeyBillingID, ctx.BillingAccountID)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
}

// GetAccountContext retrieves the caller from fiber context.
// Returns an anonymous context if none is set
func GetAccountContext(c *fiber.Ctx) AccountContext {
	if ctx, ok := c.Locals(KeyAccountContext).(AccountContext); ok {
		return ctx
	}
	return AccountContext{}
}

// IsAuthenticated checks if the request carried a valid token
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetAccountContext(c).IsAuthenticated
}

// IsAdmin checks if the current caller is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetAccountContext(c).IsAdmin
}

// GetAccountID returns the caller's own account ID, or 0 if anonymous
func GetAccountID(c *fiber.Ctx) uint {
	return GetAccountContext(c).AccountID
}

// GetBillingAccountID returns the account whose wallet the caller spends from.
// Team members spend from their owner's wallet.
func GetBillingAccountID(c *fiber.Ctx) uint {
	return GetAccountContext(c).BillingAccountID
}
