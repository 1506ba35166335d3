package config

const (
	EnvPrefix = "NOTEPRESS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "NOTEPRESS_APP_ENV"
	EnvPort     = "NOTEPRESS_APP_PORT"
	EnvLogLevel = "NOTEPRESS_LOG_LEVEL"

	EnvDBDSN  = "NOTEPRESS_DB_DSN"
	EnvDBHost = "NOTEPRESS_DB_HOST"
	EnvDBUser = "NOTEPRESS_DB_USER"
	EnvDBName = "NOTEPRESS_DB_NAME"

	EnvRedisURL = "NOTEPRESS_REDIS_URL"

	EnvArkCookie          = "NOTEPRESS_ARK_COOKIE"
	EnvArkAuthorization   = "NOTEPRESS_ARK_AUTHORIZATION"
	EnvArkMinRequestGap   = "NOTEPRESS_ARK_MIN_REQUEST_GAP"
	EnvArkMaxRequestGap   = "NOTEPRESS_ARK_MAX_REQUEST_GAP"
	EnvArkUploadChunkSize = "NOTEPRESS_ARK_UPLOAD_CHUNK_SIZE"

	EnvAIAPIKey = "NOTEPRESS_AI_API_KEY"

	EnvOSSEndpoint = "NOTEPRESS_OSS_ENDPOINT"
	EnvOSSBucket   = "NOTEPRESS_OSS_BUCKET"

	EnvUseSQLite   = "NOTEPRESS_USE_SQLITE"
	EnvAutoMigrate = "NOTEPRESS_AUTO_MIGRATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
