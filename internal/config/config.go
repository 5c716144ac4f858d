// Package config loads imagepipe's configuration: environment variables
// with baked-in defaults, optionally overlaid by a YAML file, following
// the teacher's env-var-with-defaults-plus-struct shape.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, one sub-struct per subsystem.
type Config struct {
	Pipeline    PipelineConfig    `json:"pipeline" yaml:"pipeline"`
	MemoryCache MemoryCacheConfig `json:"memory_cache" yaml:"memory_cache"`
	DiskCache   DiskCacheConfig   `json:"disk_cache" yaml:"disk_cache"`
	RateLimit   RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	Queue       QueueConfig       `json:"queue" yaml:"queue"`
	Auth        AuthConfig        `json:"auth" yaml:"auth"`
	API         APIConfig         `json:"api" yaml:"api"`
	Store       StoreConfig       `json:"store" yaml:"store"`
}

// PipelineConfig mirrors pipeline.Config's feature toggles (spec.md §6).
type PipelineConfig struct {
	IsDeduplicationEnabled         bool     `json:"is_deduplication_enabled" yaml:"is_deduplication_enabled"`
	IsRateLimiterEnabled           bool     `json:"is_rate_limiter_enabled" yaml:"is_rate_limiter_enabled"`
	IsProgressiveDecodingEnabled   bool     `json:"is_progressive_decoding_enabled" yaml:"is_progressive_decoding_enabled"`
	IsResumableDataEnabled         bool     `json:"is_resumable_data_enabled" yaml:"is_resumable_data_enabled"`
	IsDecompressionEnabled         bool     `json:"is_decompression_enabled" yaml:"is_decompression_enabled"`
	IsStoringPreviewsInMemoryCache bool     `json:"is_storing_previews_in_memory_cache" yaml:"is_storing_previews_in_memory_cache"`
	DataCacheStoredItems           []string `json:"data_cache_stored_items" yaml:"data_cache_stored_items"`
}

// MemoryCacheConfig mirrors cache.MemoryLimits (spec.md §4.3). A zero
// CostLimit means "compute from the runtime physical-memory heuristic".
type MemoryCacheConfig struct {
	CostLimit  int `json:"cost_limit" yaml:"cost_limit"`
	CountLimit int `json:"count_limit" yaml:"count_limit"`
}

// DiskCacheConfig mirrors cache.DiskLimits (spec.md §4.4).
type DiskCacheConfig struct {
	Directory     string        `json:"directory" yaml:"directory"`
	SizeLimit     int64         `json:"size_limit" yaml:"size_limit"`
	CountLimit    int           `json:"count_limit" yaml:"count_limit"`
	TrimRatio     float64       `json:"trim_ratio" yaml:"trim_ratio"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// RateLimitConfig mirrors ratelimit.Config (spec.md §4.5), reusing the
// teacher's RequestsPerSecond/Burst field shape from its API rate limiter.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// QueueConfig holds per-stage concurrency caps (spec.md §4.6).
type QueueConfig struct {
	DataLoading   int `json:"data_loading" yaml:"data_loading"`
	DataCaching   int `json:"data_caching" yaml:"data_caching"`
	Decoding      int `json:"decoding" yaml:"decoding"`
	Encoding      int `json:"encoding" yaml:"encoding"`
	Processing    int `json:"processing" yaml:"processing"`
	Decompression int `json:"decompression" yaml:"decompression"`
	Prefetch      int `json:"prefetch" yaml:"prefetch"`
}

// AuthConfig holds bearer-token auth configuration for the gateway.
type AuthConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	SecretKey   string        `json:"secret_key" yaml:"secret_key"`
	TokenExpiry time.Duration `json:"token_expiry" yaml:"token_expiry"`
	Issuer      string        `json:"issuer" yaml:"issuer"`
	Audience    string        `json:"audience" yaml:"audience"`
}

// APIConfig holds the HTTP gateway's listen/TLS/CORS configuration.
type APIConfig struct {
	Listen      string     `json:"listen" yaml:"listen"`
	TLSEnabled  bool       `json:"tls_enabled" yaml:"tls_enabled"`
	CertFile    string     `json:"cert_file" yaml:"cert_file"`
	KeyFile     string     `json:"key_file" yaml:"key_file"`
	MaxBodySize int64      `json:"max_body_size" yaml:"max_body_size"`
	Cors        CorsConfig `json:"cors" yaml:"cors"`
}

// CorsConfig configures gin-contrib/cors.
type CorsConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

// StoreConfig holds the optional Postgres+Redis persistence layer's
// connection settings (spec.md §4.7/§4.9 supplement, SPEC_FULL.md §4).
type StoreConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	PostgresHost     string `json:"postgres_host" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgres_port" yaml:"postgres_port"`
	PostgresUser     string `json:"postgres_user" yaml:"postgres_user"`
	PostgresPassword string `json:"postgres_password" yaml:"postgres_password"`
	PostgresDatabase string `json:"postgres_database" yaml:"postgres_database"`
	PostgresSSLMode  string `json:"postgres_sslmode" yaml:"postgres_sslmode"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
}

// DefaultConfig returns imagepipe's default configuration, overridable by
// environment variables.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			IsDeduplicationEnabled:         getEnvBoolOrDefault("PIPELINE_DEDUPLICATION_ENABLED", true),
			IsRateLimiterEnabled:           getEnvBoolOrDefault("PIPELINE_RATE_LIMITER_ENABLED", true),
			IsProgressiveDecodingEnabled:   getEnvBoolOrDefault("PIPELINE_PROGRESSIVE_DECODING_ENABLED", true),
			IsResumableDataEnabled:         getEnvBoolOrDefault("PIPELINE_RESUMABLE_DATA_ENABLED", true),
			IsDecompressionEnabled:         getEnvBoolOrDefault("PIPELINE_DECOMPRESSION_ENABLED", true),
			IsStoringPreviewsInMemoryCache: getEnvBoolOrDefault("PIPELINE_STORE_PREVIEWS_ENABLED", false),
			DataCacheStoredItems:           []string{"originalImageData", "finalImage"},
		},
		MemoryCache: MemoryCacheConfig{
			CostLimit:  getEnvIntOrDefault("MEMORY_CACHE_COST_LIMIT", 0),
			CountLimit: getEnvIntOrDefault("MEMORY_CACHE_COUNT_LIMIT", 0),
		},
		DiskCache: DiskCacheConfig{
			Directory:     getEnvOrDefault("DISK_CACHE_DIR", "./data/imagecache"),
			SizeLimit:     int64(getEnvIntOrDefault("DISK_CACHE_SIZE_LIMIT", 100*1024*1024)),
			CountLimit:    getEnvIntOrDefault("DISK_CACHE_COUNT_LIMIT", 1000),
			TrimRatio:     0.7,
			SweepInterval: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: 80.0,
			Burst:             getEnvIntOrDefault("RATE_LIMIT_BURST", 25),
		},
		Queue: QueueConfig{
			DataLoading:   getEnvIntOrDefault("QUEUE_DATA_LOADING", 6),
			DataCaching:   getEnvIntOrDefault("QUEUE_DATA_CACHING", 2),
			Decoding:      getEnvIntOrDefault("QUEUE_DECODING", 1),
			Encoding:      getEnvIntOrDefault("QUEUE_ENCODING", 1),
			Processing:    getEnvIntOrDefault("QUEUE_PROCESSING", 2),
			Decompression: getEnvIntOrDefault("QUEUE_DECOMPRESSION", 2),
			Prefetch:      getEnvIntOrDefault("QUEUE_PREFETCH", 2),
		},
		Auth: AuthConfig{
			Enabled:     getEnvBoolOrDefault("AUTH_ENABLED", true),
			SecretKey:   getEnvOrDefault("AUTH_SECRET_KEY", "change-this-in-production"),
			TokenExpiry: 24 * time.Hour,
			Issuer:      "imagepipe",
			Audience:    "imagepipe-clients",
		},
		API: APIConfig{
			Listen:      getEnvOrDefault("API_LISTEN", "0.0.0.0:8080"),
			TLSEnabled:  getEnvBoolOrDefault("API_TLS_ENABLED", false),
			CertFile:    getEnvOrDefault("API_CERT_FILE", ""),
			KeyFile:     getEnvOrDefault("API_KEY_FILE", ""),
			MaxBodySize: int64(getEnvIntOrDefault("API_MAX_BODY_SIZE", 32*1024*1024)),
			Cors: CorsConfig{
				Enabled:        getEnvBoolOrDefault("CORS_ENABLED", true),
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"*"},
			},
		},
		Store: StoreConfig{
			Enabled:          getEnvBoolOrDefault("STORE_ENABLED", false),
			PostgresHost:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			PostgresPort:     getEnvIntOrDefault("POSTGRES_PORT", 5432),
			PostgresUser:     getEnvOrDefault("POSTGRES_USER", "imagepipe"),
			PostgresPassword: getEnvOrDefault("POSTGRES_PASSWORD", ""),
			PostgresDatabase: getEnvOrDefault("POSTGRES_DATABASE", "imagepipe"),
			PostgresSSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:     getEnvIntOrDefault("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvIntOrDefault("POSTGRES_MAX_IDLE_CONNS", 5),
			RedisAddr:        getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getEnvOrDefault("REDIS_PASSWORD", ""),
			RedisDB:          getEnvIntOrDefault("REDIS_DB", 0),
		},
	}
}

// LoadConfig builds the default configuration and, if path is non-empty and
// exists, merges a YAML overlay on top of it.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
