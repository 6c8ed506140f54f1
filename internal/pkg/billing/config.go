package billing

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/env"
)

type Config struct {
	SecretKey     string
	WebhookSecret string `validate:"required"`
	// SignatureTolerance is how old a signed delivery may be.
	SignatureTolerance time.Duration `validate:"gt=0"`
}

func ConfigFromEnv() Config {
	return Config{
		SecretKey:          env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:      env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		SignatureTolerance: env.GetEnvDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
	}
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}
