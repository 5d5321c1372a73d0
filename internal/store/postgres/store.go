package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/secrets"
)

type Store struct {
	pool     *pgxpool.Pool
	tenants  *TenantRepo
	users    *UserRepo
	houses   *HouseRepo
	commands *CommandRepo
	events   *SecurityEventRepo
}

// New connects to Postgres. vault seals command prompts at rest; nil stores
// them in the clear.
func New(ctx context.Context, dsn string, maxConns int32, vault *secrets.Vault) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:     pool,
		tenants:  NewTenantRepo(pool),
		users:    NewUserRepo(pool),
		houses:   NewHouseRepo(pool),
		commands: NewCommandRepo(pool, vault),
		events:   NewSecurityEventRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

// Ping backs the health check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres.Store.Ping: %w", err)
	}
	return nil
}

func (s *Store) Tenants() domain.TenantRepository               { return s.tenants }
func (s *Store) Users() domain.UserRepository                   { return s.users }
func (s *Store) Houses() domain.HouseRepository                 { return s.houses }
func (s *Store) Commands() domain.CommandRepository             { return s.commands }
func (s *Store) SecurityEvents() domain.SecurityEventRepository { return s.events }
