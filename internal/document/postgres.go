package document

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/statekit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the documents table schema.
func Migrations() pg.Migration {
	return pg.Migration{FS: migrations, Dir: "migrations", Table: "statekit_document_migrations"}
}

// PostgresRepository stores documents in the documents table. Writes join
// the transaction carried by ctx, if any.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, d *Document) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO documents (id, title, status, verification_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Title, d.Status, d.VerificationStatus, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	d.repo = r
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Document, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate locks the row with FOR UPDATE; the lock is held until the
// transaction in ctx ends.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*Document, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *PostgresRepository) get(ctx context.Context, id, suffix string) (*Document, error) {
	d := &Document{repo: r}
	err := pg.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, title, status, verification_status, created_at, updated_at
		FROM documents WHERE id = $1`+suffix, id,
	).Scan(&d.ID, &d.Title, &d.Status, &d.VerificationStatus, &d.CreatedAt, &d.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *Document) error {
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE documents SET title = $2, status = $3, verification_status = $4, updated_at = $5
		WHERE id = $1`,
		d.ID, d.Title, d.Status, d.VerificationStatus, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateField(ctx context.Context, id, field, value string, updatedAt time.Time) error {
	col, err := column(field)
	if err != nil {
		return err
	}
	tag, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE documents SET `+col+` = $2, updated_at = $3 WHERE id = $1`,
		id, value, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
