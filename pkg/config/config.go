package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Ark          ArkConfig
	AI           AIConfig
	OSS          OSSConfig
	Pipeline     PipelineConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ark.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NOTEPRESS_APP_ENV" required:"true"`
	Port         string `envconfig:"NOTEPRESS_APP_PORT" default:"8090"`
	LogLevel     string `envconfig:"NOTEPRESS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NOTEPRESS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"NOTEPRESS_SERVICE_KIND" default:"pipeline-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"NOTEPRESS_DB_DSN"`
	Driver string `envconfig:"NOTEPRESS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NOTEPRESS_DB_HOST"`
	LegacyPort     int    `envconfig:"NOTEPRESS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NOTEPRESS_DB_USER"`
	LegacyPassword string `envconfig:"NOTEPRESS_DB_PASSWORD"`
	LegacyName     string `envconfig:"NOTEPRESS_DB_NAME"`
	LegacySSLMode  string `envconfig:"NOTEPRESS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NOTEPRESS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NOTEPRESS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NOTEPRESS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NOTEPRESS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NOTEPRESS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NOTEPRESS_REDIS_ADDR"`
	Password     string        `envconfig:"NOTEPRESS_REDIS_PASSWORD"`
	DB           int           `envconfig:"NOTEPRESS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NOTEPRESS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NOTEPRESS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NOTEPRESS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NOTEPRESS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NOTEPRESS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ArkConfig configures the signed HTTP client for the note platform.
// Cookie and Authorization carry the account session.
type ArkConfig struct {
	EdithBaseURL    string        `envconfig:"NOTEPRESS_ARK_EDITH_BASE_URL" default:"https://edith.xiaohongshu.com"`
	CreatorBaseURL  string        `envconfig:"NOTEPRESS_ARK_CREATOR_BASE_URL" default:"https://ark.xiaohongshu.com"`
	Cookie          string        `envconfig:"NOTEPRESS_ARK_COOKIE"`
	Authorization   string        `envconfig:"NOTEPRESS_ARK_AUTHORIZATION"`
	MinRequestGap   time.Duration `envconfig:"NOTEPRESS_ARK_MIN_REQUEST_GAP" default:"3s"`
	MaxRequestGap   time.Duration `envconfig:"NOTEPRESS_ARK_MAX_REQUEST_GAP" default:"6s"`
	RequestTimeout  time.Duration `envconfig:"NOTEPRESS_ARK_REQUEST_TIMEOUT" default:"30s"`
	TransportRetry  int           `envconfig:"NOTEPRESS_ARK_TRANSPORT_RETRIES" default:"3"`
	UploadChunkSize int64         `envconfig:"NOTEPRESS_ARK_UPLOAD_CHUNK_SIZE" default:"5242880"`
}

func (a *ArkConfig) validate() error {
	if a.MinRequestGap < 0 || a.MaxRequestGap < a.MinRequestGap {
		return fmt.Errorf("%s must be >= %s", EnvArkMaxRequestGap, EnvArkMinRequestGap)
	}
	if a.UploadChunkSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvArkUploadChunkSize)
	}
	return nil
}

type AIConfig struct {
	APIKey      string        `envconfig:"NOTEPRESS_AI_API_KEY"`
	BaseURL     string        `envconfig:"NOTEPRESS_AI_BASE_URL" default:"https://api.deepseek.com"`
	Model       string        `envconfig:"NOTEPRESS_AI_MODEL" default:"deepseek-chat"`
	Timeout     time.Duration `envconfig:"NOTEPRESS_AI_TIMEOUT" default:"120s"`
	MaxAttempts int           `envconfig:"NOTEPRESS_AI_MAX_ATTEMPTS" default:"3"`
}

type OSSConfig struct {
	Endpoint        string `envconfig:"NOTEPRESS_OSS_ENDPOINT"`
	Bucket          string `envconfig:"NOTEPRESS_OSS_BUCKET"`
	AccessKeyID     string `envconfig:"NOTEPRESS_OSS_ACCESS_KEY_ID"`
	AccessKeySecret string `envconfig:"NOTEPRESS_OSS_ACCESS_KEY_SECRET"`
	Prefix          string `envconfig:"NOTEPRESS_OSS_PREFIX"`
}

type PipelineConfig struct {
	SweepInterval      time.Duration `envconfig:"NOTEPRESS_PIPELINE_SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize     int           `envconfig:"NOTEPRESS_PIPELINE_SWEEP_BATCH_SIZE" default:"5"`
	GenerateConcurrent int           `envconfig:"NOTEPRESS_PIPELINE_GENERATE_CONCURRENCY" default:"4"`
	MaxPublishAttempts int           `envconfig:"NOTEPRESS_PIPELINE_MAX_PUBLISH_ATTEMPTS" default:"3"`

	CatalogPageSize     int           `envconfig:"NOTEPRESS_PIPELINE_CATALOG_PAGE_SIZE" default:"20"`
	CatalogFailureLimit int           `envconfig:"NOTEPRESS_PIPELINE_CATALOG_FAILURE_LIMIT" default:"5"`
	CatalogPageDelayMin time.Duration `envconfig:"NOTEPRESS_PIPELINE_CATALOG_PAGE_DELAY_MIN" default:"1s"`
	CatalogPageDelayMax time.Duration `envconfig:"NOTEPRESS_PIPELINE_CATALOG_PAGE_DELAY_MAX" default:"3s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"NOTEPRESS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"NOTEPRESS_AUTO_MIGRATE" default:"false"`
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
