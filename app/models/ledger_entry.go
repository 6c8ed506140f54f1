package models

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerEntryKind names the mutation that produced a journal row.
type LedgerEntryKind string

const (
	LedgerKindTrialGrant   LedgerEntryKind = "trial_grant"
	LedgerKindTrialExpiry  LedgerEntryKind = "trial_expiry"
	LedgerKindRenewal      LedgerEntryKind = "renewal"
	LedgerKindReactivation LedgerEntryKind = "reactivation"
	LedgerKindFreeze       LedgerEntryKind = "freeze"
	LedgerKindRestore      LedgerEntryKind = "restore"
	LedgerKindForfeit      LedgerEntryKind = "forfeit"
	LedgerKindStatus       LedgerEntryKind = "status_change"
	LedgerKindCancel       LedgerEntryKind = "cancel_scheduled"
	LedgerKindAutoRenew    LedgerEntryKind = "auto_renew"
	LedgerKindBillingLink  LedgerEntryKind = "billing_link"
	LedgerKindAddOnGrant   LedgerEntryKind = "add_on_grant"
	LedgerKindAddOnRedeem  LedgerEntryKind = "add_on_redeem"
	LedgerKindUnlock       LedgerEntryKind = "unlock"
	LedgerKindAdjustment   LedgerEntryKind = "adjustment"
)

// LedgerEntry is one append-only journal row written in the same transaction
// as the Subscriber mutation it describes.
type LedgerEntry struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	AccountID     uint               `gorm:"not null;index" json:"account_id"`
	Kind          LedgerEntryKind    `gorm:"type:varchar(32);not null;index" json:"kind"`
	Delta         int                `gorm:"not null;default:0" json:"delta"`
	CreditsBefore int                `gorm:"not null" json:"credits_before"`
	CreditsAfter  int                `gorm:"not null" json:"credits_after"`
	FrozenBefore  int                `gorm:"not null" json:"frozen_before"`
	FrozenAfter   int                `gorm:"not null" json:"frozen_after"`
	StatusBefore  SubscriptionStatus `gorm:"type:varchar(32);not null" json:"status_before"`
	StatusAfter   SubscriptionStatus `gorm:"type:varchar(32);not null" json:"status_after"`
	Reason        string             `gorm:"type:varchar(255);default:''" json:"reason"`
	Actor         string             `gorm:"type:varchar(100);default:''" json:"actor"`
	Metadata      datatypes.JSON     `json:"metadata,omitempty"`
	CreatedAt     time.Time          `gorm:"type:timestamp;not null;index" json:"created_at"`
}
