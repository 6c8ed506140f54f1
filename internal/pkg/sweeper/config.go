package sweeper

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/env"
)

// Config controls both sweepers and their manager.
type Config struct {
	TrialInterval time.Duration `validate:"gt=0"`
	JobInterval   time.Duration `validate:"gt=0"`
	JobRetention  time.Duration `validate:"gt=0"`
	ChunkSize     int           `validate:"gt=0,lte=10000"`
	// ChunkTimeout bounds one chunk's transaction.
	ChunkTimeout time.Duration `validate:"gt=0"`
	// LockTTL bounds how long a crashed replica can hold the cross-replica lease.
	// A live holder keeps extending it, so runs may take longer than this.
	LockTTL    time.Duration `validate:"gt=0"`
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{
		TrialInterval: 24 * time.Hour,
		JobInterval:   time.Hour,
		JobRetention:  7 * 24 * time.Hour,
		ChunkSize:     500,
		ChunkTimeout:  30 * time.Second,
		LockTTL:       30 * time.Minute,
		RunOnStart:    true,
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.TrialInterval = env.GetEnvDuration("TRIAL_SWEEP_INTERVAL", cfg.TrialInterval)
	cfg.JobInterval = env.GetEnvDuration("JOB_SWEEP_INTERVAL", cfg.JobInterval)
	cfg.JobRetention = time.Duration(env.GetEnvInt("JOB_RETENTION_DAYS", 7)) * 24 * time.Hour
	cfg.ChunkSize = env.GetEnvInt("SWEEP_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkTimeout = env.GetEnvDuration("SWEEP_CHUNK_TIMEOUT", cfg.ChunkTimeout)
	cfg.LockTTL = env.GetEnvDuration("SWEEP_LOCK_TTL", cfg.LockTTL)
	cfg.RunOnStart = env.GetEnvBool("SWEEP_RUN_ON_START", cfg.RunOnStart)
	return cfg
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}
