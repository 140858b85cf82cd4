package config

// EnvPrefix scopes every environment variable read by envconfig.
const EnvPrefix = "BOOKSTORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv        = "BOOKSTORE_APP_ENV"
	EnvPort          = "BOOKSTORE_APP_PORT"
	EnvLogLevel      = "BOOKSTORE_LOG_LEVEL"
	EnvDBDSN         = "BOOKSTORE_DB_DSN"
	EnvDBHost        = "BOOKSTORE_DB_HOST"
	EnvDBUser        = "BOOKSTORE_DB_USER"
	EnvDBName        = "BOOKSTORE_DB_NAME"
	EnvRedisURL      = "BOOKSTORE_REDIS_URL"
	EnvJWTSecret     = "BOOKSTORE_JWT_SECRET"
	EnvJWTIssuer     = "BOOKSTORE_JWT_ISSUER"
	EnvJWTExpMins    = "BOOKSTORE_JWT_EXPIRATION_MINUTES"
	EnvImportURL     = "BOOKSTORE_IMPORT_CATALOG_URL"
	EnvImportBackoff = "BOOKSTORE_IMPORT_BACKOFF"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
