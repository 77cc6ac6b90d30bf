package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/util"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// dbDefaults fills the zero fields of a database.<name> block.
var dbDefaults = config.DatabaseConfig{
	PingInterval:    5 * time.Second,
	ReconnectFactor: 2,
	MinJitter:       100 * time.Millisecond,
	MaxJitter:       time.Second,
	MaxIdleConns:    4,
	MaxActiveConns:  16,
	MaxConnLifetime: time.Hour,
}

// ConnectDatabase opens database.<name>, retrying with backoff until MaxRetry
// extra attempts have failed or ctx ends.
func ConnectDatabase(ctx context.Context, name string) (*sqlx.DB, error) {
	cfg, ok := config.Env.Database[name]
	if !ok {
		return nil, fmt.Errorf("database %q is not configured", name)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database %q has no dsn", name)
	}
	cfg = withDatabaseDefaults(cfg)

	logger := logrus.WithField("database", name)
	rng := util.NewRand()
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetry; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.PingInterval)
		db, err := sqlx.ConnectContext(attemptCtx, "postgres", cfg.DSN)
		cancel()
		if err == nil {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			db.SetMaxOpenConns(cfg.MaxActiveConns)
			db.SetConnMaxLifetime(cfg.MaxConnLifetime)
			logger.Info("postgres connection established")
			return db, nil
		}
		lastErr = err
		if attempt == cfg.MaxRetry {
			break
		}

		wait := util.BackoffWithJitter(attempt, cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter, 0, rng)
		logger.WithFields(logrus.Fields{
			"attempt":  attempt + 1,
			"retry_in": wait.String(),
		}).Warnf("postgres connection failed: %v", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		}
	}

	return nil, fmt.Errorf("connect database %q after %d attempts: %w", name, cfg.MaxRetry+1, lastErr)
}

func withDatabaseDefaults(cfg config.DatabaseConfig) config.DatabaseConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = dbDefaults.PingInterval
	}
	if cfg.ReconnectFactor < 1 {
		cfg.ReconnectFactor = dbDefaults.ReconnectFactor
	}
	if cfg.MinJitter <= 0 {
		cfg.MinJitter = dbDefaults.MinJitter
	}
	if cfg.MaxJitter < cfg.MinJitter {
		cfg.MaxJitter = max(dbDefaults.MaxJitter, cfg.MinJitter)
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = dbDefaults.MaxIdleConns
	}
	if cfg.MaxActiveConns <= 0 {
		cfg.MaxActiveConns = dbDefaults.MaxActiveConns
	}
	if cfg.MaxConnLifetime <= 0 {
		cfg.MaxConnLifetime = dbDefaults.MaxConnLifetime
	}

	return cfg
}
