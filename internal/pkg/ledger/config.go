package ledger

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/env"
)

const (
	DefaultTrialCredits  = 140
	DefaultTrialDuration = 14 * 24 * time.Hour
	DefaultRestoreWindow = 30 * 24 * time.Hour
	DefaultRenewalPeriod = 30 * 24 * time.Hour
)

// Config holds the ledger's business constants.
type Config struct {
	TrialCredits  int           `validate:"gte=0"`
	TrialDuration time.Duration `validate:"gt=0"`
	RestoreWindow time.Duration `validate:"gt=0"`
	// RenewalPeriod is used when a renewal arrives without a period end.
	RenewalPeriod time.Duration `validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		TrialCredits:  DefaultTrialCredits,
		TrialDuration: DefaultTrialDuration,
		RestoreWindow: DefaultRestoreWindow,
		RenewalPeriod: DefaultRenewalPeriod,
	}
}

// ConfigFromEnv reads TRIAL_CREDITS, TRIAL_DAYS and RESTORE_WINDOW_DAYS on top of the defaults.
func ConfigFromEnv() Config {
	day := 24 * time.Hour
	cfg := DefaultConfig()
	cfg.TrialCredits = env.GetEnvInt("TRIAL_CREDITS", cfg.TrialCredits)
	cfg.TrialDuration = time.Duration(env.GetEnvInt("TRIAL_DAYS", int(cfg.TrialDuration/day))) * day
	cfg.RestoreWindow = time.Duration(env.GetEnvInt("RESTORE_WINDOW_DAYS", int(cfg.RestoreWindow/day))) * day
	cfg.RenewalPeriod = time.Duration(env.GetEnvInt("RENEWAL_PERIOD_DAYS", int(cfg.RenewalPeriod/day))) * day
	return cfg
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}
