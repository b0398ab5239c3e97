package config

const (
	EnvPrefix = "HERFA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "HERFA_APP_ENV"
	EnvPort                    = "HERFA_APP_PORT"
	EnvDBDSN                   = "HERFA_DB_DSN"
	EnvDBHost                  = "HERFA_DB_HOST"
	EnvDBUser                  = "HERFA_DB_USER"
	EnvDBName                  = "HERFA_DB_NAME"
	EnvRedisURL                = "HERFA_REDIS_URL"
	EnvJWTSecret               = "HERFA_JWT_SECRET"
	EnvJWTIssuer               = "HERFA_JWT_ISSUER"
	EnvGCPProjectID            = "HERFA_GCP_PROJECT_ID"
	EnvPubSubNotificationSub   = "HERFA_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvSettlementFeeRatio      = "HERFA_SETTLEMENT_PLATFORM_FEE_RATIO"
	EnvSettlementHoldExpiry    = "HERFA_SETTLEMENT_HOLD_EXPIRY"
	EnvSettlementSweepInterval = "HERFA_SETTLEMENT_SWEEP_INTERVAL"
	EnvCronNotificationCleanup = "HERFA_CRON_NOTIFICATION_CLEANUP"
	EnvSMTPHost                = "HERFA_SMTP_HOST"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
