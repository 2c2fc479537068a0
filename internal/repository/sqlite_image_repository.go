package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/iacamera/iacamera/internal/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	nom TEXT NOT NULL,
	page INTEGER NOT NULL,
	chemin TEXT NOT NULL,
	theme TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_theme_nom_page ON images(theme, nom, page);
`

// OpenSQLite opens (or creates) a SQLite database at path, applies the
// connection pragmas and makes sure the images table exists. Use ":memory:"
// for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository: set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: migrate sqlite: %w", err)
	}
	return db, nil
}

// SQLiteImageRepository は ImageRepository の SQLite 実装
type SQLiteImageRepository struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteImageRepository wraps an already opened database (see OpenSQLite).
func NewSQLiteImageRepository(db *sql.DB) *SQLiteImageRepository {
	return &SQLiteImageRepository{db: db}
}

var _ ImageRepository = (*SQLiteImageRepository)(nil)

// Insert adds an images row and fills in the generated id and created_at.
func (r *SQLiteImageRepository) Insert(ctx context.Context, img *model.StoredImage) error {
	if r.db == nil || r.closed.Load() {
		return ErrClosed
	}
	createdAt := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO images (nom, page, chemin, theme, created_at) VALUES (?, ?, ?, ?, ?)`,
		img.Name, img.Page, img.StoragePath, img.Theme, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert image: last insert id: %w", err)
	}
	img.ID = id
	img.CreatedAt = createdAt
	return nil
}

func (r *SQLiteImageRepository) Ping(ctx context.Context) error {
	if r.db == nil || r.closed.Load() {
		return ErrClosed
	}
	return r.db.PingContext(ctx)
}

// Close releases the database. Later calls return ErrClosed.
func (r *SQLiteImageRepository) Close() error {
	if r.db == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.db.Close()
}
