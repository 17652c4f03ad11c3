package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/medspa-sms-coordinator/internal/api/router"
	"github.com/wolfman30/medspa-sms-coordinator/internal/bookings"
	"github.com/wolfman30/medspa-sms-coordinator/internal/compliance"
	appconfig "github.com/wolfman30/medspa-sms-coordinator/internal/config"
	"github.com/wolfman30/medspa-sms-coordinator/internal/escalation"
	"github.com/wolfman30/medspa-sms-coordinator/internal/events"
	"github.com/wolfman30/medspa-sms-coordinator/internal/http/handlers"
	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
	"github.com/wolfman30/medspa-sms-coordinator/internal/scheduling"
	"github.com/wolfman30/medspa-sms-coordinator/internal/smsflow"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medspa sms coordinator",
		"env", cfg.Env,
		"port", cfg.Port,
		"conversation_store", cfg.ConversationStore,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	m := setupMetrics()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		return errors.New("DATABASE_URL is required")
	}
	defer pool.Close()

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	store, closeStore, err := setupConversationStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := reschedule.NewRegistry(store, reschedule.Config{
		Timeout:      cfg.RescheduleTimeout,
		StoreTimeout: cfg.RescheduleStoreWait,
		Metrics:      m.reschedule,
	}, logger)
	defer registry.Close()

	repo := bookings.NewRepository(pool)
	bookingSvc := bookings.NewService(repo, bookings.ServiceConfig{
		Hours: scheduling.ClinicHours{
			OpenHour:  cfg.ClinicOpenHour,
			CloseHour: cfg.ClinicCloseHour,
			Location:  cfg.Location(),
		},
		Step:       cfg.SlotStep,
		SearchDays: cfg.RescheduleSearchDays,
	}, logger)
	lookup := treatment.NewLookup(repo, treatment.Config{
		MostRecentDays: cfg.TreatmentLookbackDays,
		AllRecentDays:  cfg.TreatmentRecentDays,
	}, logger)
	audit := compliance.NewAuditService(sqlDB)

	telnyx, smsSender := setupTelnyx(cfg, m.messaging, logger)
	awsClients := newAWSClients(ctx, cfg, logger)
	notifier := notify.NewService(setupEmailSender(cfg, awsClients, logger), smsSender, logger)

	escalationStore := escalation.NewSQLStore(sqlDB)
	escalationCfg := escalation.Config{
		Treatments: lookup,
		Store:      escalationStore,
		Notifier:   notifier,
		Auditor:    audit,
		Metrics:    m.escalation,
		MedicalDirector: notify.Recipient{
			Name:  "Medical Director",
			Phone: cfg.MedicalDirectorPhone,
			Email: cfg.MedicalDirectorEmail,
		},
		ClinicName: cfg.ClinicName,
	}
	if pub := setupEscalationPublisher(cfg, awsClients, logger); pub != nil {
		escalationCfg.Publisher = pub
	}
	escalations := escalation.NewService(escalationCfg, logger)

	flowCfg := smsflow.Config{
		Conversations: registry,
		Bookings:      bookingSvc,
		Auditor:       audit,
		Templates: smsflow.Templates{
			ClinicName:  cfg.ClinicName,
			ClinicPhone: cfg.ClinicPhone,
			Location:    cfg.Location(),
		},
		MaxSlots:          cfg.RescheduleMaxSlots,
		Timeout:           cfg.RescheduleTimeout,
		MessagingMetrics:  m.messaging,
		ComplianceMetrics: m.compliance,
	}
	if smsSender != nil {
		flowCfg.Sender = smsSender
	}
	flow := smsflow.NewCoordinator(flowCfg, logger)

	webhookCfg := handlers.TelnyxWebhookConfig{
		Flow:      flow,
		Processed: events.NewPostgresTracker(pool),
		Metrics:   m.messaging,
		Logger:    logger,
	}
	if telnyx != nil {
		webhookCfg.Verifier = telnyx
	}

	handler := router.New(&router.Config{
		Logger:          logger,
		TelnyxWebhooks:  handlers.NewTelnyxWebhookHandler(webhookCfg),
		Complications:   handlers.NewComplicationHandler(escalations, escalationStore, logger),
		Admin:           handlers.NewAdminHandler(registry, audit, logger),
		MetricsHandler:  m.handler,
		AdminAuthSecret: cfg.AdminJWTSecret,
		PublicRateLimit: 5,
		PublicRateBurst: 20,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runSweeper(gctx, registry, cfg.SweepInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
