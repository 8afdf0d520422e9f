package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/utils"
)

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

// NewDatabaseConfig creates a new database configuration from environment variables
func NewDatabaseConfig() *DatabaseConfig {
	cfg := &DatabaseConfig{
		Host:            utils.GetEnvOrDefault("DB_HOST", "localhost"),
		Port:            utils.GetEnvOrDefault("DB_PORT", "5432"),
		Username:        utils.GetEnvOrDefault("DB_USER", "pinpoint"),
		Password:        utils.GetEnvOrDefault("DB_PASSWORD", "pinpoint"),
		Database:        utils.GetEnvOrDefault("DB_NAME", "pinpoint311"),
		SSLMode:         utils.GetEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    utils.ParseIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    utils.ParseIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: utils.ParseDurationOrDefault("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: utils.ParseDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  utils.ParseDurationOrDefault("DB_CONNECT_TIMEOUT", 10*time.Second),
		RetryAttempts:   utils.ParseIntOrDefault("DB_RETRY_ATTEMPTS", 10),
		RetryDelay:      utils.ParseDurationOrDefault("DB_RETRY_DELAY", 2*time.Second),
	}

	slog.Info("Database configuration",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"retry_attempts", cfg.RetryAttempts,
	)

	return cfg
}

// ConnectGORM establishes a GORM connection to the PostgreSQL database,
// configures the connection pool and verifies connectivity with a ping.
func ConnectGORM(config *DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		config.Host, config.Username, config.Password, config.Database, config.Port, config.SSLMode)

	var gormDB *gorm.DB
	var err error

	for attempt := 1; attempt <= config.RetryAttempts; attempt++ {
		slog.Info("Attempting database connection", "attempt", attempt, "max_attempts", config.RetryAttempts)

		gormDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			slog.Warn("Failed to open database connection", "attempt", attempt, "error", err)
			if attempt < config.RetryAttempts {
				time.Sleep(config.RetryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to open database connection after %d attempts: %w", config.RetryAttempts, err)
		}

		sqlDB, dbErr := gormDB.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", dbErr)
		}

		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

		ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
		err = sqlDB.PingContext(ctx)
		cancel()

		if err != nil {
			slog.Warn("Failed to ping database", "attempt", attempt, "error", err)
			if attempt < config.RetryAttempts {
				time.Sleep(config.RetryDelay)
				continue
			}
			return nil, fmt.Errorf("failed to ping database after %d attempts: %w", config.RetryAttempts, err)
		}

		slog.Info("Database connection established",
			"host", config.Host,
			"port", config.Port,
			"database", config.Database)
		return gormDB, nil
	}

	return nil, fmt.Errorf("failed to establish database connection after %d attempts", config.RetryAttempts)
}
