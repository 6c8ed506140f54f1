package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	ClaimWebhookRetry(id uint, attempts int) (bool, error)
	MarkWebhookProcessed(id uint, accountID *uint, processingError string) error
	FindPlanByStripePrice(priceID string) (*models.Plan, error)
	FindAccountIDByCustomerRef(customerRef string) (uint, error)
	FindAccountIDBySubscriptionRef(subscriptionRef string) (uint, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ClaimWebhookRetry takes over a delivery whose previous attempt failed. The
// attempts counter acts as the version, so concurrent redeliveries claim it once.
func (r *gormRepository) ClaimWebhookRetry(id uint, attempts int) (bool, error) {
	tx := r.db.Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND attempts = ? AND processing_error <> ''", id, attempts).
		Updates(map[string]interface{}{
			"attempts":         gorm.Expr("attempts + 1"),
			"processed_at":     nil,
			"processing_error": "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, accountID *uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	if accountID != nil {
		updates["account_id"] = *accountID
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) FindPlanByStripePrice(priceID string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("stripe_price_id = ? AND is_active = ?", priceID, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) FindAccountIDByCustomerRef(customerRef string) (uint, error) {
	return r.findAccountID("billing_customer_ref = ?", customerRef)
}

func (r *gormRepository) FindAccountIDBySubscriptionRef(subscriptionRef string) (uint, error) {
	return r.findAccountID("billing_subscription_ref = ?", subscriptionRef)
}

func (r *gormRepository) findAccountID(query string, ref string) (uint, error) {
	if ref == "" {
		return 0, gorm.ErrRecordNotFound
	}
	var ids []uint
	if err := r.db.Model(&models.Subscriber{}).Where(query, ref).Order("account_id").Limit(1).Pluck("account_id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return ids[0], nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
