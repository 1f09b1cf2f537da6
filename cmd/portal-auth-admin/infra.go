package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/bootstrap"
	"github.com/ocs-portal/portal-auth/internal/data"
	"github.com/ocs-portal/portal-auth/internal/ports"
	"github.com/ocs-portal/portal-auth/internal/service"
)

type connectInfraOptions struct {
	WantDB    bool
	WantRedis bool
}

var errRedisNotConfigured = errors.New("redis not configured")

// connectInfra wires up infrastructure dependencies based on the command's needs.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func (a *adminApp) connectInfra(opts connectInfraOptions) (*sql.DB, redis.UniversalClient, error) {
	var (
		db          *sql.DB
		redisClient redis.UniversalClient
		err         error
	)

	if opts.WantDB {
		db, err = bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
	}

	if opts.WantRedis {
		redisClient, err = a.maybeConnectRedis()
		if err != nil {
			if db != nil {
				if closeErr := db.Close(); closeErr != nil {
					err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
				}
			}
			return nil, nil, err
		}
	}
	return db, redisClient, nil
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func (a *adminApp) maybeConnectRedis() (redis.UniversalClient, error) {
	if !hasRedisConfig(&a.cfg.Redis) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: a.cfg.Redis, Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

func (a *adminApp) closeInfra(db *sql.DB, redisClient redis.UniversalClient) {
	if err := closeInfra(db, redisClient); err != nil {
		a.logger.Warn("close infrastructure failed", "error", err)
	}
}

// withDatabase runs f with a connected database and a bounded context.
func (a *adminApp) withDatabase(
	ctx context.Context,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, _, err := a.connectInfra(connectInfraOptions{WantDB: true})
	if err != nil {
		return err
	}
	defer a.closeInfra(db, nil)

	return f(ctx, db)
}

// sessionInfra holds the connections a session command needs.
type sessionInfra struct {
	DB       *sql.DB
	Store    ports.SessionStore
	Sessions *service.SessionService
}

// withSessions connects the configured session backend, plus Postgres when
// audit retention is enabled, and runs f.
func (a *adminApp) withSessions(ctx context.Context, f func(context.Context, sessionInfra) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	postgres := a.cfg.Session.Backend == config.SessionBackendPostgres
	db, redisClient, err := a.connectInfra(connectInfraOptions{
		WantDB:    postgres || a.cfg.Audit.Enabled,
		WantRedis: !postgres,
	})
	if err != nil {
		return err
	}
	defer a.closeInfra(db, redisClient)

	store, err := bootstrap.BuildSessionStore(bootstrap.SessionStoreConfig{
		Session:     a.cfg.Session,
		DB:          db,
		RedisClient: redisClient,
	})
	if err != nil {
		return err
	}
	sessions, err := service.NewSessionService(service.SessionServiceOptions{
		Store:  store,
		Config: a.cfg.Session,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	return f(ctx, sessionInfra{DB: db, Store: store, Sessions: sessions})
}

// withRules builds a rule service over the configured rule source. The
// static source needs no database.
func (a *adminApp) withRules(ctx context.Context, f func(context.Context, *service.RuleService) error) error {
	run := func(ctx context.Context, db *sql.DB) error {
		repo, err := bootstrap.BuildRuleRepository(a.cfg.Auth.RulesSource, db)
		if err != nil {
			return err
		}
		var audit *service.AuditService
		if db != nil && a.cfg.Audit.Enabled {
			audit, err = service.NewAuditService(service.AuditServiceOptions{
				Repo:   data.NewAuditRepo(db),
				Config: a.cfg.Audit,
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
		}
		rules, err := service.NewRuleService(service.RuleServiceOptions{Repo: repo, Audit: audit, Logger: a.logger})
		if err != nil {
			return err
		}
		return f(ctx, rules)
	}

	if a.cfg.Auth.RulesSource == config.RulesSourceStatic {
		ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
		defer cancel()
		return run(ctx, nil)
	}
	return a.withDatabase(ctx, defaultCommandTimeout, run)
}
