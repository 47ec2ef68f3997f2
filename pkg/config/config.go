package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/eventcore/pkg/enums"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	EventStore   EventStoreConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	NATS         NATSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EVENTCORE_APP_ENV" required:"true"`
	OpsPort      string `envconfig:"EVENTCORE_OPS_PORT" default:"9090"`
	LogLevel     string `envconfig:"EVENTCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EVENTCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTCORE_DB_DSN"`
	Driver string `envconfig:"EVENTCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EVENTCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"EVENTCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVENTCORE_DB_USER"`
	LegacyPassword string `envconfig:"EVENTCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVENTCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVENTCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTCORE_REDIS_URL"`
	Address      string        `envconfig:"EVENTCORE_REDIS_ADDR"`
	Password     string        `envconfig:"EVENTCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EVENTCORE_AUTO_MIGRATE" default:"false"`
}

type EventStoreConfig struct {
	SnapshotInterval int `envconfig:"EVENTCORE_SNAPSHOT_INTERVAL" default:"50"`
	ReplayBatchSize  int `envconfig:"EVENTCORE_REPLAY_BATCH_SIZE" default:"500"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"EVENTCORE_OUTBOX_BATCH_SIZE" default:"100"`
	PollInterval    time.Duration `envconfig:"EVENTCORE_OUTBOX_POLL_INTERVAL" default:"5s"`
	MaxRetries      int           `envconfig:"EVENTCORE_OUTBOX_MAX_RETRIES" default:"5"`
	DeliveryTimeout time.Duration `envconfig:"EVENTCORE_OUTBOX_DELIVERY_TIMEOUT" default:"15s"`
	Sink            string        `envconfig:"EVENTCORE_OUTBOX_SINK" default:"pubsub"`
	LockKey         string        `envconfig:"EVENTCORE_OUTBOX_LOCK_KEY"`
	LockTTL         time.Duration `envconfig:"EVENTCORE_OUTBOX_LOCK_TTL" default:"30s"`
	// DeliveredTTL bounds how long Redis remembers a published event id.
	// Zero disables the tracker.
	DeliveredTTL time.Duration `envconfig:"EVENTCORE_OUTBOX_DELIVERED_TTL" default:"24h"`
}

func (o OutboxConfig) validate() error {
	if _, err := enums.ParseOutboxSink(o.Sink); err != nil {
		return fmt.Errorf("%s: %w", EnvOutboxSink, err)
	}
	return nil
}

// SinkKind returns the validated sink.
func (o OutboxConfig) SinkKind() enums.OutboxSink {
	kind, _ := enums.ParseOutboxSink(o.Sink)
	return kind
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"EVENTCORE_CRON_INTERVAL" default:"1h"`
	LockKey            string        `envconfig:"EVENTCORE_CRON_LOCK_KEY" default:"cron"`
	LockTTL            time.Duration `envconfig:"EVENTCORE_CRON_LOCK_TTL" default:"55m"`
	OutboxRetentionDay int           `envconfig:"EVENTCORE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EVENTCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"EVENTCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"EVENTCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EventsTopic string `envconfig:"EVENTCORE_PUBSUB_EVENTS_TOPIC" default:"eventcore-events"`
}

type BigQueryConfig struct {
	Dataset     string `envconfig:"EVENTCORE_BIGQUERY_DATASET" default:"eventcore"`
	EventsTable string `envconfig:"EVENTCORE_BIGQUERY_EVENTS_TABLE" default:"domain_events"`
}

type NATSConfig struct {
	URL           string `envconfig:"EVENTCORE_NATS_URL" default:"nats://127.0.0.1:4222"`
	Stream        string `envconfig:"EVENTCORE_NATS_STREAM" default:"EVENTCORE"`
	SubjectPrefix string `envconfig:"EVENTCORE_NATS_SUBJECT_PREFIX" default:"eventcore.events"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DriverSQLite)
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
