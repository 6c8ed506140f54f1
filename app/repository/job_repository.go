package repository

import (
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRepository implements the JobRepository interface
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// Create stores a new job. Jobs always start pending review.
func (r *jobRepository) Create(job *models.Job) error {
	job.ReviewStatus = models.ReviewStatusPending
	job.PostedAt = nil
	return r.db.Create(job).Error
}

// GetByID retrieves a job by its ID
func (r *jobRepository) GetByID(id uint) (*models.Job, error) {
	var job models.Job
	err := r.db.First(&job, id).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkPosted publishes a pending job and stamps posted_at once.
func (r *jobRepository) MarkPosted(id uint, now time.Time) (*models.Job, error) {
	var job models.Job
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, id).Error; err != nil {
			return err
		}
		if err := job.MarkPosted(now); err != nil {
			return err
		}
		return tx.Model(&job).Updates(map[string]interface{}{
			"review_status": job.ReviewStatus,
			"posted_at":     job.PostedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkDeclined rejects a pending job.
func (r *jobRepository) MarkDeclined(id uint) (*models.Job, error) {
	var job models.Job
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, id).Error; err != nil {
			return err
		}
		if job.ReviewStatus != models.ReviewStatusPending {
			return models.ErrJobNotPending
		}
		job.ReviewStatus = models.ReviewStatusDeclined
		return tx.Model(&job).Update("review_status", job.ReviewStatus).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListPosted returns unlockable jobs, newest first
func (r *jobRepository) ListPosted(offset, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.Where("review_status = ?", models.ReviewStatusPosted).
		Order("posted_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// CountPosted returns the number of unlockable jobs
func (r *jobRepository) CountPosted() (int64, error) {
	var count int64
	err := r.db.Model(&models.Job{}).Where("review_status = ?", models.ReviewStatusPosted).Count(&count).Error
	return count, err
}
