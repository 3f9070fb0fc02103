package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type WorldRow struct {
	ID        uuid.UUID
	Name      string
	Seed      int64
	Type      string
	CreatedAt time.Time
}

type WorldRepo struct {
	db *DB
}

func NewWorldRepo(db *DB) *WorldRepo {
	return &WorldRepo{db: db}
}

// Load returns the world called name, or nil if it does not exist.
func (r *WorldRepo) Load(ctx context.Context, name string) (*WorldRow, error) {
	row := &WorldRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, seed, world_type, created_at FROM worlds WHERE name = $1`, name,
	).Scan(&row.ID, &row.Name, &row.Seed, &row.Type, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// LoadOrCreate returns the stored world called name, creating it with the
// given seed and type on first use. A stored world keeps its own seed and
// type; created reports whether the row is new.
func (r *WorldRepo) LoadOrCreate(ctx context.Context, name string, seed int64, worldType string) (row *WorldRow, created bool, err error) {
	row, err = r.Load(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("load world %s: %w", name, err)
	}
	if row != nil {
		return row, false, nil
	}

	row = &WorldRow{ID: uuid.New(), Name: name, Seed: seed, Type: worldType}
	tag, err := r.db.Pool.Exec(ctx,
		`INSERT INTO worlds (id, name, seed, world_type) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO NOTHING`,
		row.ID, row.Name, row.Seed, row.Type,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create world %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		// Another process created it first.
		row, err = r.Load(ctx, name)
		if err != nil || row == nil {
			return nil, false, fmt.Errorf("load world %s: %w", name, errors.Join(err, pgx.ErrNoRows))
		}
		return row, false, nil
	}
	row.CreatedAt = time.Now()
	return row, true, nil
}
