package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/hotel-pms-backend/internal/bookings"
	appconfig "github.com/wolfman30/hotel-pms-backend/internal/config"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Database bundles the pgx pool with a database/sql handle over the same
// connections, for components written against database/sql.
type Database struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
}

func (d *Database) Close() {
	if d == nil {
		return
	}
	_ = d.SQL.Close()
	d.Pool.Close()
}

// BuildDatabase connects to Postgres. An empty DATABASE_URL returns nil so
// the server can run against the in-memory store.
func BuildDatabase(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Database, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	if logger != nil {
		logger.Info("connected to postgres")
	}
	return &Database{Pool: pool, SQL: stdlib.OpenDBFromPool(pool)}, nil
}

// BuildBookingStore picks the Postgres store when a database is available.
func BuildBookingStore(db *Database, cfg *appconfig.Config, logger *logging.Logger) bookings.Store {
	if db == nil {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; bookings are kept in memory")
		}
		return bookings.NewMemoryStore(logger)
	}
	return bookings.NewPostgresStore(db.Pool, cfg.DBLockTimeout, logger)
}

// BuildIdempotencyStore returns the session-creation fast path. The booking
// store stays authoritative, so a missing backend degrades to memory.
func BuildIdempotencyStore(cfg *appconfig.Config, redisClient *redis.Client, dynamo *dynamodb.Client, logger *logging.Logger) payments.IdempotencyStore {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.IdempotencyBackend {
	case "redis":
		if redisClient != nil {
			return payments.NewRedisIdempotencyStore(redisClient)
		}
		logger.Warn("redis idempotency backend unavailable; using memory")
	case "dynamodb":
		if dynamo != nil && cfg.IdempotencyTable != "" {
			return payments.NewDynamoIdempotencyStore(dynamo, cfg.IdempotencyTable)
		}
		logger.Warn("dynamodb idempotency backend not configured; using memory")
	case "memory", "":
	default:
		logger.Warn("unknown idempotency backend; using memory", "backend", cfg.IdempotencyBackend)
	}
	return payments.NewMemoryIdempotencyStore()
}
