package models

import "time"

// Account is the read-only view of a user profile the ledger needs: where to send
// notifications and which account owns the Subscriber.
type Account struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"type:varchar(200);uniqueIndex" json:"email"`
	Name           string    `gorm:"type:varchar(150)" json:"name"`
	OwnerAccountID *uint     `gorm:"index" json:"owner_account_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillingAccountID returns the account whose Subscriber this account spends from.
func (a *Account) BillingAccountID() uint {
	if a.OwnerAccountID != nil && *a.OwnerAccountID != 0 {
		return *a.OwnerAccountID
	}
	return a.ID
}
