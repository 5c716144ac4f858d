// Package store is the optional Postgres+Redis persistence layer behind
// resumable-download bookkeeping and prefetch history (SPEC_FULL.md §4
// supplement to spec.md §4.7/§4.9). It is entirely optional: a Pipeline
// built without a Manager keeps ResumableData in memory only and a
// Prefetcher keeps no history at all.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/khryptorgraphics/imagepipe/internal/config"
)

// Manager owns the Postgres and Redis connections and the repositories
// built on top of them.
type Manager struct {
	DB     *sqlx.DB
	Redis  *redis.Client
	config *config.StoreConfig
	logger *slog.Logger

	Resumable *ResumableRepository
	Prefetch  *PrefetchRepository
}

// NewManager connects to Postgres and Redis and runs pending migrations.
func NewManager(ctx context.Context, cfg *config.StoreConfig, logger *slog.Logger) (*Manager, error) {
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}

	m := &Manager{config: cfg, logger: logger}

	if err := m.connectPostgres(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := m.connectRedis(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := m.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	m.Resumable = NewResumableRepository(m.DB, m.logger)
	m.Prefetch = NewPrefetchRepository(m.DB, m.logger)

	logger.Info("store manager initialized",
		"postgres_host", cfg.PostgresHost,
		"postgres_db", cfg.PostgresDatabase,
		"redis_addr", cfg.RedisAddr)

	return m, nil
}

func (m *Manager) connectPostgres(ctx context.Context) error {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		m.config.PostgresHost, m.config.PostgresPort, m.config.PostgresUser,
		m.config.PostgresPassword, m.config.PostgresDatabase, m.config.PostgresSSLMode)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(m.config.MaxOpenConns)
	db.SetMaxIdleConns(m.config.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return err
	}

	m.DB = db
	return nil
}

func (m *Manager) connectRedis(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     m.config.RedisAddr,
		Password: m.config.RedisPassword,
		DB:       m.config.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return err
	}

	m.Redis = rdb
	return nil
}

// Health reports the liveness of both backing stores.
func (m *Manager) Health(ctx context.Context) HealthStatus {
	health := HealthStatus{Postgres: ComponentHealth{Status: "healthy"}, Redis: ComponentHealth{Status: "healthy"}}

	pgStart := time.Now()
	if err := m.DB.PingContext(ctx); err != nil {
		health.Postgres.Status = "unhealthy"
		health.Postgres.Error = err.Error()
	}
	health.Postgres.ResponseTime = time.Since(pgStart)

	redisStart := time.Now()
	if err := m.Redis.Ping(ctx).Err(); err != nil {
		health.Redis.Status = "unhealthy"
		health.Redis.Error = err.Error()
	}
	health.Redis.ResponseTime = time.Since(redisStart)

	if health.Postgres.Status == "healthy" && health.Redis.Status == "healthy" {
		health.Overall = "healthy"
	} else {
		health.Overall = "degraded"
	}
	return health
}

// Close closes both connections, collecting errors from each rather than
// stopping at the first.
func (m *Manager) Close() error {
	var errs []error
	if m.DB != nil {
		if err := m.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing postgres: %w", err))
		}
	}
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store connections: %v", errs)
	}
	return nil
}

// HealthStatus and ComponentHealth mirror the teacher's health-report shape.
type HealthStatus struct {
	Overall  string          `json:"overall"`
	Postgres ComponentHealth `json:"postgres"`
	Redis    ComponentHealth `json:"redis"`
}

type ComponentHealth struct {
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
}
