package repository

import (
	"github.com/ManuelReschke/LeadLedger/app/models"
	"gorm.io/gorm"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.First(&account, id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Exists reports whether an account with this ID is known
func (r *accountRepository) Exists(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Account{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}
