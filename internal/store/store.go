// Package store is the sole database access layer: pgx/pgxpool-backed
// repositories for every table in migrations/0001_init.up.sql, following
// the pool-per-service, SQL-string, Scan-into-struct pattern of
// query/internal/repository and rules/internal/repository.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// repository run identically inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool and exposes one repository per table.
type Store struct {
	Pool *pgxpool.Pool

	RawLogs      *RawLogRepo
	Events       *EventRepo
	Flows        *FlowRepo
	Endpoints    *EndpointRepo
	Firewalls    *FirewallRepo
	Jobs         *JobRepo
	Settings     *SettingsRepo
	RouterMACs   *RouterMACRepo
	Unclassified *UnclassifiedRepo
	HAClusters   *HAClusterRepo
}

// Open builds the pgxpool.Pool using the tuning knobs from cfg and wires
// every repository against it.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{Pool: pool}
	s.RawLogs = &RawLogRepo{db: pool}
	s.Events = &EventRepo{db: pool}
	s.Flows = &FlowRepo{db: pool}
	s.Endpoints = &EndpointRepo{db: pool}
	s.Firewalls = &FirewallRepo{db: pool}
	s.Jobs = &JobRepo{db: pool}
	s.Settings = &SettingsRepo{db: pool}
	s.RouterMACs = &RouterMACRepo{db: pool}
	s.Unclassified = &UnclassifiedRepo{db: pool}
	s.HAClusters = &HAClusterRepo{db: pool}
	return s, nil
}

func (s *Store) Close() { s.Pool.Close() }

// TxStore mirrors Store but with every repository bound to a single
// transaction, for C3's requirement that a raw_log row and the events it
// produces commit atomically.
type TxStore struct {
	Tx pgx.Tx

	RawLogs   *RawLogRepo
	Events    *EventRepo
	Flows     *FlowRepo
	Endpoints *EndpointRepo
	Firewalls *FirewallRepo
}

// BeginTx starts a transaction and returns repositories bound to it. The
// caller must Commit or Rollback s.Tx.
func (s *Store) BeginTx(ctx context.Context) (*TxStore, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &TxStore{
		Tx:        tx,
		RawLogs:   &RawLogRepo{db: tx},
		Events:    &EventRepo{db: tx},
		Flows:     &FlowRepo{db: tx},
		Endpoints: &EndpointRepo{db: tx},
		Firewalls: &FirewallRepo{db: tx},
	}, nil
}

// Stats reports pool-level counters for the /stats/db endpoint.
type PoolStats struct {
	AcquiredConns   int32
	IdleConns       int32
	MaxConns        int32
	TotalConns      int32
	NewConnsCount   int64
	AcquireCount    int64
	AcquireDuration time.Duration
}

func (s *Store) Stats() PoolStats {
	st := s.Pool.Stat()
	return PoolStats{
		AcquiredConns:   st.AcquiredConns(),
		IdleConns:       st.IdleConns(),
		MaxConns:        st.MaxConns(),
		TotalConns:      st.TotalConns(),
		NewConnsCount:   st.NewConnsCount(),
		AcquireCount:    st.AcquireCount(),
		AcquireDuration: st.AcquireDuration(),
	}
}
