package models

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ReviewStatus is the closed set of job review states.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusPosted   ReviewStatus = "posted"
	ReviewStatusDeclined ReviewStatus = "declined"
)

var ErrJobNotPending = errors.New("job is not pending")

// Job is a lead ingested from permit data that accounts pay credits to unlock.
type Job struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	Title        string       `gorm:"type:varchar(255);not null" json:"title" validate:"required,max=255"`
	Description  string       `gorm:"type:text" json:"description"`
	PermitNumber string       `gorm:"type:varchar(100);default:'';index" json:"permit_number"`
	City         string       `gorm:"type:varchar(100);default:''" json:"city"`
	State        string       `gorm:"type:varchar(50);default:''" json:"state"`
	ProjectValue int64        `gorm:"not null;default:0" json:"project_value"`
	CreditCost   int          `gorm:"not null;default:1" json:"credit_cost" validate:"gte=1"`
	ReviewStatus ReviewStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_jobs_review_posted,priority:1" json:"review_status"`
	PostedAt     *time.Time   `gorm:"type:timestamp;default:null;index:idx_jobs_review_posted,priority:2" json:"posted_at,omitempty"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// MarkPosted moves a pending job to posted. It happens exactly once.
func (j *Job) MarkPosted(now time.Time) error {
	if j.ReviewStatus != ReviewStatusPending {
		return ErrJobNotPending
	}
	j.ReviewStatus = ReviewStatusPosted
	j.PostedAt = &now
	return nil
}

// Snapshot freezes the lead details an account paid for.
func (j *Job) Snapshot() datatypes.JSON {
	b, _ := json.Marshal(map[string]interface{}{
		"id":            j.ID,
		"title":         j.Title,
		"description":   j.Description,
		"permit_number": j.PermitNumber,
		"city":          j.City,
		"state":         j.State,
		"project_value": j.ProjectValue,
		"credit_cost":   j.CreditCost,
	})
	return datatypes.JSON(b)
}
