package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisTLS          bool
	ConversationStore string

	RescheduleTimeout    time.Duration
	RescheduleMaxSlots   int
	RescheduleSearchDays int
	RescheduleStoreWait  time.Duration
	ClinicOpenHour       int
	ClinicCloseHour      int
	SlotStep             time.Duration
	ClinicTimezone       string
	SweepInterval        time.Duration

	TreatmentLookbackDays int
	TreatmentRecentDays   int

	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxWebhookSecret      string
	SMSFromNumber            string
	SMSRatePerSecond         float64

	ClinicName           string
	ClinicPhone          string
	AdminJWTSecret       string
	MedicalDirectorEmail string
	MedicalDirectorPhone string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EscalationQueueURL  string

	EmailProvider       string
	SendGridAPIKey      string
	EmailFrom           string
	EmailFromName       string
	SESConfigurationSet string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisTLS:          getEnvAsBool("REDIS_TLS", false),
		ConversationStore: strings.ToLower(strings.TrimSpace(getEnv("CONVERSATION_STORE", "memory"))),

		RescheduleTimeout:    getEnvAsDuration("RESCHEDULE_TIMEOUT", 10*time.Minute),
		RescheduleMaxSlots:   getEnvAsInt("RESCHEDULE_MAX_SLOTS", 3),
		RescheduleSearchDays: getEnvAsInt("RESCHEDULE_SEARCH_DAYS", 7),
		RescheduleStoreWait:  getEnvAsDuration("RESCHEDULE_STORE_TIMEOUT", 2*time.Second),
		ClinicOpenHour:       getEnvAsInt("CLINIC_OPEN_HOUR", 9),
		ClinicCloseHour:      getEnvAsInt("CLINIC_CLOSE_HOUR", 17),
		SlotStep:             getEnvAsDuration("SLOT_STEP", 30*time.Minute),
		ClinicTimezone:       getEnv("CLINIC_TIMEZONE", "UTC"),
		SweepInterval:        getEnvAsDuration("SWEEP_INTERVAL", time.Minute),

		TreatmentLookbackDays: getEnvAsInt("TREATMENT_LOOKBACK_DAYS", 14),
		TreatmentRecentDays:   getEnvAsInt("TREATMENT_RECENT_DAYS", 30),

		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxWebhookSecret:      getEnv("TELNYX_WEBHOOK_SECRET", ""),
		SMSFromNumber:            getEnv("SMS_FROM_NUMBER", ""),
		SMSRatePerSecond:         getEnvAsFloat("SMS_RATE_PER_SECOND", 10),

		ClinicName:           getEnv("CLINIC_NAME", ""),
		ClinicPhone:          getEnv("CLINIC_PHONE", ""),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),
		MedicalDirectorEmail: getEnv("MEDICAL_DIRECTOR_EMAIL", ""),
		MedicalDirectorPhone: getEnv("MEDICAL_DIRECTOR_PHONE", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EscalationQueueURL:  getEnv("ESCALATION_QUEUE_URL", ""),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:           getEnv("EMAIL_FROM", ""),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
	}
}

// Location resolves ClinicTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
