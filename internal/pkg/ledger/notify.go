package ledger

import (
	"context"
	"time"
)

// NotificationKind names the outbound message requested by a ledger mutation.
type NotificationKind string

const (
	NotifyTrialGranted NotificationKind = "trial_granted"
	NotifyRenewed      NotificationKind = "renewed"
	NotifyFrozen       NotificationKind = "frozen"
	NotifyRestored     NotificationKind = "restored"
	NotifyForfeited    NotificationKind = "forfeited"
)

// Notification is the summary handed to the mailer after a mutation commits.
// It carries computed amounts and dates only.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	AccountID uint             `json:"account_id"`
	Credits   int              `json:"credits"`
	Balance   int              `json:"balance"`
	PlanName  string           `json:"plan_name,omitempty"`
	Date      *time.Time       `json:"date,omitempty"`
}

// Notifier requests delivery of a notification. Implementations must not block
// on the actual send.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
