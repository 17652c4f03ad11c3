package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-sms-coordinator/cmd/mainconfig"
	appconfig "github.com/wolfman30/medspa-sms-coordinator/internal/config"
	"github.com/wolfman30/medspa-sms-coordinator/internal/escalation"
	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging/telnyxclient"
	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/observability/metrics"
	"github.com/wolfman30/medspa-sms-coordinator/internal/reschedule"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

type appMetrics struct {
	handler    http.Handler
	messaging  *metrics.MessagingMetrics
	reschedule *metrics.RescheduleMetrics
	compliance *metrics.ComplianceMetrics
	escalation *metrics.EscalationMetrics
}

func setupMetrics() appMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return appMetrics{
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		messaging:  metrics.NewMessagingMetrics(reg),
		reschedule: metrics.NewRescheduleMetrics(reg),
		compliance: metrics.NewComplianceMetrics(reg),
		escalation: metrics.NewEscalationMetrics(reg),
	}
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// setupConversationStore picks the reschedule store. A Redis connection
// failure falls back to memory so inbound SMS keeps working.
func setupConversationStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (reschedule.Store, func(), error) {
	if cfg.ConversationStore != "redis" {
		return reschedule.NewMemoryStore(time.Now), func() {}, nil
	}
	client := redis.NewClient(mainconfig.RedisOptions(cfg))
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.Warn("redis unavailable, using in-memory conversation store", "error", err, "addr", cfg.RedisAddr)
		return reschedule.NewMemoryStore(time.Now), func() {}, nil
	}
	return reschedule.NewRedisStore(client, nil), func() { _ = client.Close() }, nil
}

// setupTelnyx returns a nil client and sender when no API key is configured.
func setupTelnyx(cfg *appconfig.Config, m *metrics.MessagingMetrics, logger *logging.Logger) (*telnyxclient.Client, notify.SMSSender) {
	if cfg.TelnyxAPIKey == "" {
		logger.Warn("TELNYX_API_KEY not set; SMS replies and webhooks disabled")
		return nil, nil
	}
	client, err := telnyxclient.New(telnyxclient.Config{
		APIKey:        cfg.TelnyxAPIKey,
		WebhookSecret: cfg.TelnyxWebhookSecret,
		MaxRetries:    3,
		RatePerSecond: cfg.SMSRatePerSecond,
		OnRetry:       func(int) { m.ObserveOutbound("retried") },
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create telnyx client", "error", err)
		return nil, nil
	}
	return client, telnyxclient.NewSender(client, cfg.SMSFromNumber, cfg.TelnyxMessagingProfileID)
}

type awsClients struct {
	sqs *sqs.Client
	ses *sesv2.Client
}

func newAWSClients(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) awsClients {
	if cfg.EscalationQueueURL == "" && cfg.EmailProvider != "ses" {
		return awsClients{}
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		return awsClients{}
	}
	return awsClients{
		sqs: sqs.NewFromConfig(awsCfg),
		ses: sesv2.NewFromConfig(awsCfg),
	}
}

func setupEmailSender(cfg *appconfig.Config, clients awsClients, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); s != nil {
			return s
		}
		logger.Warn("SENDGRID_API_KEY not set; using stub email sender")
	case "ses":
		if clients.ses != nil {
			return notify.NewSESSender(clients.ses, notify.SESConfig{
				FromEmail:        cfg.EmailFrom,
				FromName:         cfg.EmailFromName,
				ConfigurationSet: cfg.SESConfigurationSet,
			}, logger)
		}
		logger.Warn("SES client unavailable; using stub email sender")
	}
	return notify.NewStubEmailSender(logger)
}

func setupEscalationPublisher(cfg *appconfig.Config, clients awsClients, logger *logging.Logger) *escalation.SQSPublisher {
	if cfg.EscalationQueueURL == "" {
		return nil
	}
	if clients.sqs == nil {
		logger.Warn("SQS client unavailable; escalation events will not be published")
		return nil
	}
	return escalation.NewSQSPublisher(clients.sqs, cfg.EscalationQueueURL)
}

// runSweeper expires overdue conversations until ctx is done. It covers
// timers lost when the process restarts with a durable store.
func runSweeper(ctx context.Context, registry *reschedule.Registry, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := registry.SweepExpired(ctx)
			if err != nil {
				logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired stale conversations", "count", n)
			}
		}
	}
}
