package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	// PublicBaseURL is the externally reachable base of this API; download
	// and part URLs handed to callers and the search index are built on it.
	PublicBaseURL string

	Database     DatabaseConfig
	Redis        RedisConfig
	CORS         CORSConfig
	Log          LogConfig
	ContentStore ContentStoreConfig
	SearchIndex  SearchIndexConfig
	Transfer     TransferConfig
	Worker       WorkerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ContentStoreConfig points at the external store holding document binaries.
type ContentStoreConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	ChunkSize int64
	// DefaultOwnerRSIN is used when a publication has no publisher with an
	// identifier of its own.
	DefaultOwnerRSIN string
	// PlaceholderTypeURL is registered for documents whose publication has
	// no classification yet (concept publications).
	PlaceholderTypeURL string
}

// SearchIndexConfig points at the public search index. An empty BaseURL
// disables indexing; every index call then reports "skipped".
type SearchIndexConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// TransferConfig tunes download URL signing and value-list caching.
type TransferConfig struct {
	DownloadURLSecret   string
	DownloadURLTTL      time.Duration
	ClassificationCache time.Duration
}

// WorkerConfig sizes the background mirror/propagation worker.
type WorkerConfig struct {
	Concurrency int
	MaxRetries  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicBaseURL = v.GetString("PUBLIC_BASE_URL")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	chunkSize := v.GetInt64("CONTENT_STORE_CHUNK_SIZE")
	if chunkSize <= 0 {
		chunkSize = 100 * 1024 * 1024
	}
	cfg.ContentStore = ContentStoreConfig{
		BaseURL:            v.GetString("CONTENT_STORE_URL"),
		APIKey:             v.GetString("CONTENT_STORE_API_KEY"),
		Timeout:            parseDuration(v.GetString("CONTENT_STORE_TIMEOUT"), 30*time.Second),
		ChunkSize:          chunkSize,
		DefaultOwnerRSIN:   v.GetString("CONTENT_STORE_DEFAULT_RSIN"),
		PlaceholderTypeURL: v.GetString("CONTENT_STORE_PLACEHOLDER_TYPE_URL"),
	}

	cfg.SearchIndex = SearchIndexConfig{
		BaseURL: v.GetString("SEARCH_INDEX_URL"),
		APIKey:  v.GetString("SEARCH_INDEX_API_KEY"),
		Timeout: parseDuration(v.GetString("SEARCH_INDEX_TIMEOUT"), 10*time.Second),
	}

	cfg.Transfer = TransferConfig{
		DownloadURLSecret:   v.GetString("DOWNLOAD_URL_SECRET"),
		DownloadURLTTL:      parseDuration(v.GetString("DOWNLOAD_URL_TTL"), 24*time.Hour),
		ClassificationCache: parseDuration(v.GetString("CLASSIFICATION_CACHE_TTL"), 15*time.Minute),
	}

	cfg.Worker = WorkerConfig{
		Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		MaxRetries:  v.GetInt("WORKER_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "publications")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CONTENT_STORE_URL", "http://localhost:8100/api/v1")
	v.SetDefault("CONTENT_STORE_API_KEY", "")
	v.SetDefault("CONTENT_STORE_TIMEOUT", "30s")
	v.SetDefault("CONTENT_STORE_CHUNK_SIZE", 100*1024*1024)
	v.SetDefault("CONTENT_STORE_DEFAULT_RSIN", "")
	v.SetDefault("CONTENT_STORE_PLACEHOLDER_TYPE_URL", "")

	v.SetDefault("SEARCH_INDEX_URL", "")
	v.SetDefault("SEARCH_INDEX_API_KEY", "")
	v.SetDefault("SEARCH_INDEX_TIMEOUT", "10s")

	v.SetDefault("DOWNLOAD_URL_SECRET", "dev_download_secret")
	v.SetDefault("DOWNLOAD_URL_TTL", "24h")
	v.SetDefault("CLASSIFICATION_CACHE_TTL", "15m")

	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("WORKER_MAX_RETRIES", 5)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
