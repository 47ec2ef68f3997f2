package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "EVENTCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "EVENTCORE_APP_ENV"
	EnvLogLevel = "EVENTCORE_LOG_LEVEL"

	EnvDBDSN    = "EVENTCORE_DB_DSN"
	EnvDBDriver = "EVENTCORE_DB_DRIVER"
	EnvDBHost   = "EVENTCORE_DB_HOST"
	EnvDBPort   = "EVENTCORE_DB_PORT"
	EnvDBUser   = "EVENTCORE_DB_USER"
	EnvDBPass   = "EVENTCORE_DB_PASSWORD"
	EnvDBName   = "EVENTCORE_DB_NAME"

	EnvRedisURL = "EVENTCORE_REDIS_URL"

	EnvSnapshotInterval = "EVENTCORE_SNAPSHOT_INTERVAL"

	EnvOutboxBatchSize    = "EVENTCORE_OUTBOX_BATCH_SIZE"
	EnvOutboxPollInterval = "EVENTCORE_OUTBOX_POLL_INTERVAL"
	EnvOutboxMaxRetries   = "EVENTCORE_OUTBOX_MAX_RETRIES"
	EnvOutboxSink         = "EVENTCORE_OUTBOX_SINK"

	EnvGCPProjectID = "EVENTCORE_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
