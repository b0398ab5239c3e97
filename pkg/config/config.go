package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Eventing   EventingConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Scheduler  SchedulerConfig
	Settlement SettlementConfig
	Cron       CronConfig
	SMTP       SMTPConfig
	Paymob     PaymobConfig
	RateLimit  RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate reports every out-of-range setting at once so a bad deploy shows
// the whole list.
func (c *Config) validate() error {
	positive := func(name string, ok bool) error {
		if ok {
			return nil
		}
		return fmt.Errorf("%s must be positive", name)
	}
	return multierr.Combine(
		c.Settlement.validate(),
		positive("HERFA_JWT_EXPIRATION_MINUTES", c.JWT.ExpirationMinutes > 0),
		positive("HERFA_OUTBOX_PUBLISH_BATCH_SIZE", c.Outbox.BatchSize > 0),
		positive("HERFA_OUTBOX_PUBLISH_POLL_MS", c.Outbox.PollIntervalMS > 0),
		positive("HERFA_OUTBOX_MAX_ATTEMPTS", c.Outbox.MaxAttempts > 0),
		positive("HERFA_SCHEDULER_BATCH_SIZE", c.Scheduler.BatchSize > 0),
		positive("HERFA_SCHEDULER_LEASE", c.Scheduler.Lease > 0),
		positive("HERFA_CRON_LOCK_TTL", c.Cron.LockTTL > 0),
	)
}

type AppConfig struct {
	Env          string `envconfig:"HERFA_APP_ENV" required:"true"`
	Port         string `envconfig:"HERFA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HERFA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HERFA_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"HERFA_AUTO_MIGRATE" default:"false"`

	CORSOrigins []string `envconfig:"HERFA_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8081,https://7erfa.com,https://app.7erfa.com"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"HERFA_SERVICE_KIND" default:"api"`
	// MetricsAddr serves /metrics from background binaries, e.g. ":9090".
	// The api exposes /metrics on its own router and ignores it.
	MetricsAddr string `envconfig:"HERFA_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"HERFA_DB_DSN"`
	Driver string `envconfig:"HERFA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"HERFA_DB_HOST"`
	LegacyPort     int    `envconfig:"HERFA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"HERFA_DB_USER"`
	LegacyPassword string `envconfig:"HERFA_DB_PASSWORD"`
	LegacyName     string `envconfig:"HERFA_DB_NAME"`
	LegacySSLMode  string `envconfig:"HERFA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HERFA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HERFA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HERFA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HERFA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs queries slower than this at warn; zero disables.
	SlowQueryThreshold time.Duration `envconfig:"HERFA_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HERFA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"HERFA_REDIS_ADDR"`
	Password     string        `envconfig:"HERFA_REDIS_PASSWORD"`
	DB           int           `envconfig:"HERFA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HERFA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HERFA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HERFA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HERFA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HERFA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies bearer tokens minted by the auth service.
type JWTConfig struct {
	Secret            string `envconfig:"HERFA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"HERFA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"HERFA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"HERFA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"HERFA_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
	HTTPIdempotencyTTL    time.Duration `envconfig:"HERFA_EVENTING_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"HERFA_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"HERFA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"HERFA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"HERFA_PUBSUB_NOTIFICATION_TOPIC" default:"herfa-notification-events"`
	NotificationSubscription string `envconfig:"HERFA_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	DomainTopic              string `envconfig:"HERFA_PUBSUB_DOMAIN_TOPIC" default:"herfa-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"HERFA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"HERFA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"HERFA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (o OutboxConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// SchedulerConfig tunes the durable task worker.
type SchedulerConfig struct {
	BatchSize    int           `envconfig:"HERFA_SCHEDULER_BATCH_SIZE" default:"25"`
	PollInterval time.Duration `envconfig:"HERFA_SCHEDULER_POLL_INTERVAL" default:"1s"`
	Lease        time.Duration `envconfig:"HERFA_SCHEDULER_LEASE" default:"2m"`
	MaxAttempts  int           `envconfig:"HERFA_SCHEDULER_MAX_ATTEMPTS" default:"8"`
	MaxBackoff   time.Duration `envconfig:"HERFA_SCHEDULER_MAX_BACKOFF" default:"10m"`
}

type SettlementConfig struct {
	PlatformFeeRatio string        `envconfig:"HERFA_SETTLEMENT_PLATFORM_FEE_RATIO" default:"0.10"`
	HoldExpiry       time.Duration `envconfig:"HERFA_SETTLEMENT_HOLD_EXPIRY" default:"15m"`
	SweepInterval    time.Duration `envconfig:"HERFA_SETTLEMENT_SWEEP_INTERVAL" default:"5m"`
	SweepBatchSize   int           `envconfig:"HERFA_SETTLEMENT_SWEEP_BATCH_SIZE" default:"100"`
	Currency         string        `envconfig:"HERFA_SETTLEMENT_CURRENCY" default:"EGP"`
}

func (s SettlementConfig) validate() error {
	var errs error
	if s.HoldExpiry <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvSettlementHoldExpiry))
	}
	if strings.TrimSpace(s.PlatformFeeRatio) == "" {
		errs = multierr.Append(errs, fmt.Errorf("%s is required", EnvSettlementFeeRatio))
	}
	if _, err := enums.ParseCurrency(s.Currency); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("HERFA_SETTLEMENT_CURRENCY: %w", err))
	}
	return errs
}

// CronConfig holds schedules for the cron worker. Schedules accept
// either a Go duration ("5m") or a five-field cron expression.
type CronConfig struct {
	LockTTL                 time.Duration `envconfig:"HERFA_CRON_LOCK_TTL" default:"10m"`
	Tick                    time.Duration `envconfig:"HERFA_CRON_TICK" default:"30s"`
	NotificationCleanup     string        `envconfig:"HERFA_CRON_NOTIFICATION_CLEANUP" default:"0 0 * * *"`
	NotificationRetention   time.Duration `envconfig:"HERFA_CRON_NOTIFICATION_RETENTION" default:"720h"`
	LedgerReconcile         string        `envconfig:"HERFA_CRON_LEDGER_RECONCILE" default:"1h"`
	LedgerReconcileLookback time.Duration `envconfig:"HERFA_CRON_LEDGER_RECONCILE_LOOKBACK" default:"2h"`
}

type SMTPConfig struct {
	Host     string `envconfig:"HERFA_SMTP_HOST"`
	Port     int    `envconfig:"HERFA_SMTP_PORT" default:"587"`
	User     string `envconfig:"HERFA_SMTP_USER"`
	Password string `envconfig:"HERFA_SMTP_PASS"`
	From     string `envconfig:"HERFA_SMTP_FROM" default:"7erfa <no-reply@7erfa.com>"`
}

// Enabled reports whether outbound mail is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type PaymobConfig struct {
	HMACSecret string `envconfig:"HERFA_PAYMOB_HMAC_SECRET"`
}

// RateLimitConfig throttles booking and provider callbacks. A zero limit disables the check.
type RateLimitConfig struct {
	BookingWindow    time.Duration `envconfig:"HERFA_RATE_LIMIT_BOOKING_WINDOW" default:"1m"`
	BookingIPLimit   int           `envconfig:"HERFA_RATE_LIMIT_BOOKING_IP_LIMIT" default:"30"`
	BookingUserLimit int           `envconfig:"HERFA_RATE_LIMIT_BOOKING_USER_LIMIT" default:"10"`
	WebhookWindow    time.Duration `envconfig:"HERFA_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit   int           `envconfig:"HERFA_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"120"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
