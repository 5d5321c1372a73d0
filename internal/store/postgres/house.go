package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/domus/internal/domain"
)

type HouseRepo struct {
	pool *pgxpool.Pool
}

func NewHouseRepo(pool *pgxpool.Pool) *HouseRepo {
	return &HouseRepo{pool: pool}
}

const houseColumns = `id, tenant_id, owner_id, name, address, created_at`

func (r *HouseRepo) Create(ctx context.Context, h *domain.House) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO houses (`+houseColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.TenantID, h.OwnerID, h.Name, h.Address, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("houseRepo.Create: %w", mapError(err))
	}

	return nil
}

func (r *HouseRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.House, error) {
	h, err := scanHouse(r.pool.QueryRow(ctx,
		`SELECT `+houseColumns+` FROM houses WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	))
	if err != nil {
		return nil, fmt.Errorf("houseRepo.GetByID: %w", err)
	}
	return h, nil
}

// Lookup reads a house without a tenant filter. Only the access guard's
// scope registry may call it.
func (r *HouseRepo) Lookup(ctx context.Context, id uuid.UUID) (*domain.House, error) {
	h, err := scanHouse(r.pool.QueryRow(ctx,
		`SELECT `+houseColumns+` FROM houses WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("houseRepo.Lookup: %w", err)
	}
	return h, nil
}

func (r *HouseRepo) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.House, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+houseColumns+` FROM houses WHERE tenant_id = $1
		 ORDER BY created_at, id
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("houseRepo.List: %w", err)
	}
	defer rows.Close()

	var houses []*domain.House
	for rows.Next() {
		h, err := scanHouse(rows)
		if err != nil {
			return nil, fmt.Errorf("houseRepo.List: scan: %w", err)
		}
		houses = append(houses, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("houseRepo.List: rows: %w", err)
	}

	return houses, nil
}

func scanHouse(row pgx.Row) (*domain.House, error) {
	var h domain.House

	err := row.Scan(&h.ID, &h.TenantID, &h.OwnerID, &h.Name, &h.Address, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &h, nil
}
