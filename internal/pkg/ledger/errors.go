package ledger

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrTierMismatch         = errors.New("add-on is not available on the current plan")
	ErrEmptyPool            = errors.New("add-on pool is empty")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidAdjustment    = errors.New("invalid credit adjustment")
	ErrInvalidStatus        = errors.New("invalid billing status")
	ErrNoActiveSubscription = errors.New("no active paid subscription")
	ErrJobUnavailable       = errors.New("job is not available for unlock")
	ErrInvariant            = errors.New("ledger invariant violated")
	ErrStaleEvent           = errors.New("provider event is older than the applied state")

	errDuplicateUnlock = errors.New("unlock record already exists")
)
