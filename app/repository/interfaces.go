package repository

import (
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"gorm.io/gorm"
)

// AccountRepository defines the read access to account profiles
type AccountRepository interface {
	GetByID(id uint) (*models.Account, error)
	Exists(id uint) (bool, error)
}

// PlanRepository defines the interface for plan catalogue operations
type PlanRepository interface {
	GetByID(id uint) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
}

// JobRepository defines the interface for job review operations. Unlocking and
// cleanup go through the ledger; this covers ingest and review only.
type JobRepository interface {
	Create(job *models.Job) error
	GetByID(id uint) (*models.Job, error)
	MarkPosted(id uint, now time.Time) (*models.Job, error)
	MarkDeclined(id uint) (*models.Job, error)
	ListPosted(offset, limit int) ([]models.Job, error)
	CountPosted() (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Account AccountRepository
	Plan    PlanRepository
	Job     JobRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account: NewAccountRepository(db),
		Plan:    NewPlanRepository(db),
		Job:     NewJobRepository(db),
	}
}
