package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/daniilsirbu/medical-records-management-system/internal/config"
	"github.com/daniilsirbu/medical-records-management-system/internal/domain/forms"
	"github.com/daniilsirbu/medical-records-management-system/internal/platform/db"
)

// store is the opened backend. Exactly one of pool and sqlDB is set.
type store struct {
	driver    string
	pool      *pgxpool.Pool
	sqlDB     *sql.DB
	templates forms.TemplateRepository
	instances forms.InstanceRepository
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		templates, instances, err := forms.NewSQLiteRepos(ctx, sqlDB)
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		return &store{driver: config.DriverSQLite, sqlDB: sqlDB, templates: templates, instances: instances}, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		return &store{
			driver:    config.DriverPostgres,
			pool:      pool,
			templates: forms.NewTemplateRepoPG(pool),
			instances: forms.NewInstanceRepoPG(pool),
		}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// bind prepares ctx for repository calls made outside an HTTP request. With
// postgres that pins a connection to the tenant schema.
func (s *store) bind(ctx context.Context, tenant string) (context.Context, func(), error) {
	if s.pool == nil {
		return ctx, func() {}, nil
	}
	ctx, conn, err := db.TenantContext(ctx, s.pool, tenant)
	if err != nil {
		return nil, nil, err
	}
	return ctx, conn.Release, nil
}

func (s *store) pinger() db.Pinger {
	if s.pool != nil {
		return s.pool
	}
	return db.PingerFunc(s.sqlDB.PingContext)
}

func (s *store) poolStats() (acquired, idle int32) {
	if s.pool != nil {
		st := s.pool.Stat()
		return st.AcquiredConns(), st.IdleConns()
	}
	st := s.sqlDB.Stats()
	return int32(st.InUse), int32(st.Idle)
}

func (s *store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}
