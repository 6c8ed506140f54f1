package models

import (
	"time"

	"gorm.io/datatypes"
)

// UnlockRecord proves an account paid for a job. Its existence is the only
// authority for "already unlocked".
type UnlockRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AccountID    uint           `gorm:"not null;uniqueIndex:ux_unlock_records_account_job,priority:1" json:"account_id"`
	JobID        uint           `gorm:"not null;uniqueIndex:ux_unlock_records_account_job,priority:2;index" json:"job_id"`
	CreditsSpent int            `gorm:"not null" json:"credits_spent"`
	JobSnapshot  datatypes.JSON `json:"job_snapshot"`
	UnlockedAt   time.Time      `gorm:"type:timestamp;not null" json:"unlocked_at"`
}
