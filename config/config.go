package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Policy holds the tunable settlement constants
type Policy struct {
	MilestoneVotingPeriod time.Duration
	ManualVotingPeriod    time.Duration
	SweepInterval         time.Duration
	AutoCancelGrace       time.Duration
	RecoveryDeadline      time.Duration
	ProgressUpdateWindow  time.Duration
	EligibilityTTL        time.Duration
	SweepLockTTL          time.Duration
	// EligibilityPercent of the goal a donor must have given to vote
	EligibilityPercent int64
}

// DefaultPolicy ...
func DefaultPolicy() Policy {
	return Policy{
		MilestoneVotingPeriod: 7 * 24 * time.Hour,
		ManualVotingPeriod:    3 * 24 * time.Hour,
		SweepInterval:         6 * time.Hour,
		AutoCancelGrace:       48 * time.Hour,
		RecoveryDeadline:      30 * 24 * time.Hour,
		ProgressUpdateWindow:  30 * 24 * time.Hour,
		EligibilityTTL:        5 * time.Minute,
		SweepLockTTL:          30 * time.Minute,
		EligibilityPercent:    1,
	}
}

// Config represents the service configuration read from the environment
type Config struct {
	Port     string
	Env      string
	Secret   string
	MongoURI string
	MongoDB  string
	RedisURL string

	KafkaBrokers  []string
	KafkaJobTopic string
	KafkaGroup    string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalReturnURL    string
	PayPalCancelURL    string

	MailgunDomain     string
	MailgunPrivateKey string
	MailFrom          string
	EmailSender       string
	EmailSenderPass   string

	ServiceAccountKeyPath string

	Policy Policy
}

// IsDev reports whether the service talks to sandbox collaborators
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// Load reads .env (if present) and the process environment
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function
func FromEnv(getenv func(string) string) Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:                  get("PORT", "8080"),
		Env:                   get("ENV", "dev"),
		Secret:                getenv("SECRET"),
		MongoURI:              get("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:               get("MONGO_DB", "crowdfund"),
		RedisURL:              getenv("REDIS_URL"),
		KafkaJobTopic:         get("KAFKA_JOB_TOPIC", "crowdfund.jobs"),
		KafkaGroup:            get("KAFKA_GROUP", "crowdfund-worker"),
		PayPalClientID:        getenv("PAYPAL_CLIENT_ID"),
		PayPalClientSecret:    getenv("PAYPAL_CLIENT_SECRET"),
		PayPalReturnURL:       getenv("PAYPAL_RETURN_URL"),
		PayPalCancelURL:       getenv("PAYPAL_CANCEL_URL"),
		MailgunDomain:         getenv("MAILGUN_DOMAIN"),
		MailgunPrivateKey:     getenv("MAILGUN_PRIVATE_KEY"),
		MailFrom:              getenv("MAIL_FROM"),
		EmailSender:           getenv("EMAIL_SENDER"),
		EmailSenderPass:       getenv("EMAIL_SENDER_PASS"),
		ServiceAccountKeyPath: getenv("SERVICE_ACCOUNT_KEY_PATH"),
		Policy:                DefaultPolicy(),
	}

	for _, b := range strings.Split(getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	p := &cfg.Policy
	duration(getenv, "MILESTONE_VOTING_PERIOD", &p.MilestoneVotingPeriod)
	duration(getenv, "MANUAL_VOTING_PERIOD", &p.ManualVotingPeriod)
	duration(getenv, "SWEEP_INTERVAL", &p.SweepInterval)
	duration(getenv, "AUTO_CANCEL_GRACE", &p.AutoCancelGrace)
	duration(getenv, "RECOVERY_DEADLINE", &p.RecoveryDeadline)
	duration(getenv, "PROGRESS_UPDATE_WINDOW", &p.ProgressUpdateWindow)
	duration(getenv, "ELIGIBILITY_TTL", &p.EligibilityTTL)
	duration(getenv, "SWEEP_LOCK_TTL", &p.SweepLockTTL)

	return cfg
}

func duration(getenv func(string) string, key string, dst *time.Duration) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("config: ignoring %s=%q: invalid duration", key, v)
		return
	}
	*dst = d
}
