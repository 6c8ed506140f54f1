package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyAccountContext = "ACCOUNT_CONTEXT"
	KeyAccountID      = "account_id"
	KeyBillingID      = "billing_account_id"
	KeyIsAdmin        = "isAdmin"
	KeyAuthenticated  = "authenticated"
	KeyInternal       = "internal_caller"
)
