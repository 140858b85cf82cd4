package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Cart          CartConfig
	Activity      ActivityConfig
	Notifications NotificationsConfig
	Import        ImportConfig
	ImportLog     ImportLogConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Import.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"BOOKSTORE_APP_ENV" required:"true"`
	Port         string   `envconfig:"BOOKSTORE_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"BOOKSTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"BOOKSTORE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"BOOKSTORE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOOKSTORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOOKSTORE_DB_DSN"`
	Driver string `envconfig:"BOOKSTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BOOKSTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"BOOKSTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOOKSTORE_DB_USER"`
	LegacyPassword string `envconfig:"BOOKSTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOOKSTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOOKSTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOOKSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOOKSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOOKSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOOKSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"BOOKSTORE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	Namespace    string        `envconfig:"BOOKSTORE_REDIS_NAMESPACE" default:"bookstore"`
	URL          string        `envconfig:"BOOKSTORE_REDIS_URL"`
	Address      string        `envconfig:"BOOKSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"BOOKSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOOKSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOOKSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOOKSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOOKSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOOKSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOOKSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BOOKSTORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BOOKSTORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BOOKSTORE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BOOKSTORE_AUTO_MIGRATE" default:"false"`
	MemoryKV    bool `envconfig:"BOOKSTORE_MEMORY_KV" default:"false"`
}

type CartConfig struct {
	TTL             time.Duration `envconfig:"BOOKSTORE_CART_TTL" default:"168h"`
	AbandonAfter    time.Duration `envconfig:"BOOKSTORE_CART_ABANDON_AFTER" default:"72h"`
	AbandonBatchMax int           `envconfig:"BOOKSTORE_CART_ABANDON_BATCH" default:"200"`
}

type ActivityConfig struct {
	MaxEntries int64 `envconfig:"BOOKSTORE_ACTIVITY_MAX_ENTRIES" default:"1000"`
}

type NotificationsConfig struct {
	MaxEntries int64 `envconfig:"BOOKSTORE_NOTIFICATIONS_MAX_ENTRIES" default:"100"`
}

type ImportConfig struct {
	CatalogURL      string          `envconfig:"BOOKSTORE_IMPORT_CATALOG_URL" default:"https://gutendex.com/books"`
	HTTPTimeout     time.Duration   `envconfig:"BOOKSTORE_IMPORT_HTTP_TIMEOUT" default:"30s"`
	MaxAttempts     int             `envconfig:"BOOKSTORE_IMPORT_MAX_ATTEMPTS" default:"5"`
	Backoff         []time.Duration `envconfig:"BOOKSTORE_IMPORT_BACKOFF" default:"30s,60s,120s"`
	BatchPause      time.Duration   `envconfig:"BOOKSTORE_IMPORT_BATCH_PAUSE" default:"1s"`
	PagePause       time.Duration   `envconfig:"BOOKSTORE_IMPORT_PAGE_PAUSE" default:"3s"`
	FreshnessWindow time.Duration   `envconfig:"BOOKSTORE_IMPORT_FRESHNESS_WINDOW" default:"168h"`
	LockTTL         time.Duration   `envconfig:"BOOKSTORE_IMPORT_LOCK_TTL" default:"6h"`
	DefaultPrice    string          `envconfig:"BOOKSTORE_IMPORT_DEFAULT_PRICE" default:"9.99"`
	DefaultStock    int             `envconfig:"BOOKSTORE_IMPORT_DEFAULT_STOCK" default:"100"`

	ScheduleStartPage int           `envconfig:"BOOKSTORE_IMPORT_SCHEDULE_START_PAGE" default:"1"`
	ScheduleMaxPages  int           `envconfig:"BOOKSTORE_IMPORT_SCHEDULE_MAX_PAGES" default:"10"`
	ScheduleBatchSize int           `envconfig:"BOOKSTORE_IMPORT_SCHEDULE_BATCH_SIZE" default:"20"`
	ScheduleInterval  time.Duration `envconfig:"BOOKSTORE_IMPORT_SCHEDULE_INTERVAL" default:"24h"`
}

// DefaultPriceDecimal parses the configured price assigned to newly imported books.
func (i ImportConfig) DefaultPriceDecimal() decimal.Decimal {
	price, err := decimal.NewFromString(strings.TrimSpace(i.DefaultPrice))
	if err != nil {
		return decimal.Zero
	}
	return price
}

func (i ImportConfig) validate() error {
	if strings.TrimSpace(i.CatalogURL) == "" {
		return fmt.Errorf("%s is required", EnvImportURL)
	}
	if _, err := url.Parse(i.CatalogURL); err != nil {
		return fmt.Errorf("parsing %s: %w", EnvImportURL, err)
	}
	if len(i.Backoff) == 0 {
		return fmt.Errorf("%s must list at least one duration", EnvImportBackoff)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(i.DefaultPrice)); err != nil {
		return fmt.Errorf("invalid import default price %q: %w", i.DefaultPrice, err)
	}
	return nil
}

type CronConfig struct {
	Tick                time.Duration `envconfig:"BOOKSTORE_CRON_TICK" default:"5m"`
	LockTTL             time.Duration `envconfig:"BOOKSTORE_CRON_LOCK_TTL" default:"2h"`
	CartAbandonEvery    time.Duration `envconfig:"BOOKSTORE_CRON_CART_ABANDON_EVERY" default:"1h"`
	PermissionSyncEvery time.Duration `envconfig:"BOOKSTORE_CRON_PERMISSION_SYNC_EVERY" default:"6h"`
}

type ImportLogConfig struct {
	StreamKey      string `envconfig:"BOOKSTORE_IMPORT_LOG_STREAM" default:"import:logs"`
	MaxLen         int64  `envconfig:"BOOKSTORE_IMPORT_LOG_MAX_LEN" default:"10000"`
	MaxFieldLength int    `envconfig:"BOOKSTORE_IMPORT_LOG_MAX_FIELD_LENGTH" default:"1000"`
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
