package main

import (
	"context"
	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/brewboard/userauth"
	"github.com/brewboard/userauth/federated"
	"github.com/brewboard/userauth/store/memory"
	"github.com/brewboard/userauth/store/postgres"
	redisstore "github.com/brewboard/userauth/store/redis"
	"github.com/brewboard/userauth/store/sqlite"
)

// resources collects cleanup functions in the order they must run.
type resources struct {
	closers []func()
}

func (r *resources) add(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// openRedis returns nil when no address is configured.
func openRedis(ctx context.Context, cfg daemonConfig, res *resources, logger *slog.Logger) (redis.UniversalClient, error) {
	addr := cfg.Redis.Addr
	if addr == "" {
		return nil, nil
	}

	if addr == "memory" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, oops.With("operation", "start in-process redis").Wrap(err)
		}
		res.add(mr.Close)
		addr = mr.Addr()
		logger.Warn("using in-process redis, data is lost on exit", "addr", addr)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	res.add(func() { _ = rdb.Close() })

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, oops.With("operation", "ping redis").With("addr", addr).Wrap(err)
	}
	return rdb, nil
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func openStore(ctx context.Context, cfg daemonConfig, rdb redis.UniversalClient, res *resources) (userauth.IdentityStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), nil
	case "redis":
		return redisstore.New(rdb, cfg.Store.Prefix), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, oops.With("operation", "open postgres pool").Wrap(err)
		}
		res.add(pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, oops.With("operation", "ping postgres").Wrap(err)
		}
		return postgres.New(pool), nil
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, oops.With("operation", "open sqlite").With("path", cfg.Store.DSN).Wrap(err)
		}
		res.add(func() { _ = store.Close() })
		return store, nil
	default:
		return nil, oops.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newVerifier returns nil when federated sign-in is not configured.
func newVerifier(cfg daemonConfig) (userauth.FederatedVerifier, error) {
	if cfg.Federated.Audience == "" {
		return nil, nil
	}
	v, err := federated.New(federated.Config{
		Issuers: cfg.Federated.Issuers,
		JWKSURL: cfg.Federated.JWKSURL,
	})
	if err != nil {
		return nil, oops.With("operation", "configure federated verifier").Wrap(err)
	}
	return v, nil
}
