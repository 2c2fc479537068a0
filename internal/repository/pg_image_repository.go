package repository

import (
	"context"
	"fmt"

	"github.com/iacamera/iacamera/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgImageRepository は ImageRepository の PostgreSQL 実装
type PgImageRepository struct {
	pool *pgxpool.Pool
}

// NewPgImageRepository は PgImageRepository を生成する
func NewPgImageRepository(pool *pgxpool.Pool) *PgImageRepository {
	return &PgImageRepository{pool: pool}
}

var _ ImageRepository = (*PgImageRepository)(nil)

// Insert adds an images row and fills in the generated id and created_at.
func (r *PgImageRepository) Insert(ctx context.Context, img *model.StoredImage) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO images (nom, page, chemin, theme)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		img.Name, img.Page, img.StoragePath, img.Theme,
	).Scan(&img.ID, &img.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (r *PgImageRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
