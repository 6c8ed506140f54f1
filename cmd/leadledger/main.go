package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/LeadLedger/app/controllers"
	"github.com/ManuelReschke/LeadLedger/app/repository"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/billing"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/cache"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/database"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/env"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/jobqueue"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/mail"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/router"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/sweeper"
)

const shutdownTimeout = 20 * time.Second

// Application is the wired process: HTTP server plus the background workers.
type Application struct {
	App      *fiber.App
	Sweepers *sweeper.Manager
	Queue    *jobqueue.Manager
}

func main() {
	a := NewApplication()

	a.Queue.Start()
	a.Sweepers.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := a.App.Listen(addr); err != nil {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("[Server] Shutting down...")

	if err := a.App.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Server] HTTP shutdown: %v", err)
	}
	a.Sweepers.Stop()
	a.Queue.Stop()
	log.Info("[Server] Bye")
}

func NewApplication() *Application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	redisClient := cache.GetClient()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalFactory()

	// notifications go through the Redis queue so a slow mail server never
	// holds up a ledger transaction
	processor := jobqueue.NewNotificationProcessor(
		jobqueue.NewGormRecipients(db),
		mail.NewSMTPMailerFromEnv(),
		env.GetEnvInt("MAIL_RATE_PER_MINUTE", 60),
	)
	queue := jobqueue.NewQueue(redisClient, env.GetEnvInt("NOTIFY_WORKERS", 2), processor)

	ledgerCfg := ledger.ConfigFromEnv()
	mustValidate("ledger", ledgerCfg.Validate())
	ledgerSvc := ledger.NewService(ledger.NewGormStore(db), ledgerCfg, ledger.WithNotifier(queue))

	sweepCfg := sweeper.ConfigFromEnv()
	mustValidate("sweeper", sweepCfg.Validate())
	sweepers := sweeper.NewManager(sweepCfg, sweeper.WithLocker(cache.NewLock(redisClient)))
	sweepers.Register(sweeper.NewTrialExpiry(ledgerSvc, sweepCfg), sweepCfg.TrialInterval)
	sweepers.Register(sweeper.NewJobCleanup(ledgerSvc, sweepCfg), sweepCfg.JobInterval)

	billingCfg := billing.ConfigFromEnv()
	mustValidate("billing", billingCfg.Validate())
	webhooks := billing.NewServiceFromDB(db, ledgerSvc, billingCfg)
	var provider billing.Provider
	if billingCfg.SecretKey != "" {
		provider = billing.NewStripeProvider(billingCfg.SecretKey)
	} else {
		log.Warn("[Billing] STRIPE_SECRET_KEY not set, subscription changes stay local")
	}

	jwtSecret := env.GetEnv("JWT_SECRET", "")
	if len(jwtSecret) < 32 {
		log.Fatal("[Config] JWT_SECRET must be at least 32 characters")
	}

	app := fiber.New(fiber.Config{
		AppName:   "LeadLedger",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Deps{
		Ledger:            controllers.NewLedgerController(ledgerSvc, provider, repos.GetJobRepository(), repos.GetPlanRepository()),
		Admin:             controllers.NewAdminController(ledgerSvc, sweepers, repos.GetJobRepository()),
		Internal:          controllers.NewInternalController(ledgerSvc, repos.GetAccountRepository()),
		Billing:           controllers.NewBillingController(webhooks),
		JWTSecret:         []byte(jwtSecret),
		InternalToken:     env.GetEnv("INTERNAL_API_TOKEN", ""),
		LimiterStorage:    router.NewLimiterStorage(redisClient),
		LimiterMax:        env.GetEnvInt("RATE_LIMIT_MAX", 120),
		LimiterExpiration: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	})

	return &Application{
		App:      app,
		Sweepers: sweepers,
		Queue:    jobqueue.NewManager(queue),
	}
}

func mustValidate(name string, err error) {
	if err != nil {
		log.Fatalf("[Config] Invalid %s configuration: %v", name, err)
	}
}
