package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// DBTX is an interface that allows us to use either a pool, a connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleassets.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const assetColumns = `id, owner_type, owner_id, asset_type, name, COALESCE(storage_key, ''), url, created_at, updated_at`

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == "asset_storage_key_unique" {
				return fmt.Errorf("%s: storage key already in use", operation)
			}
			return fmt.Errorf("%s: asset already exists", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "23514": // check_violation
			return fmt.Errorf("%s: constraint %s violated", operation, pgErr.ConstraintName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Create(ctx context.Context, asset *simpleassets.Asset) error {
	if err := insertAsset(ctx, r.db, asset); err != nil {
		return r.handlePostgresError("create asset", err)
	}
	return nil
}

// CreateIfUnderLimit serializes creates for one (owner, type) with a
// transaction-scoped advisory lock, then counts and inserts in the same
// transaction.
func (r *Repository) CreateIfUnderLimit(ctx context.Context, asset *simpleassets.Asset, limit int) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		lockKey := fmt.Sprintf("asset:%s:%s:%s", asset.Owner.Type, asset.Owner.ID, asset.Type)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return err
		}

		n, err := countAssets(ctx, tx, asset.Owner, asset.Type)
		if err != nil {
			return err
		}
		if n >= limit {
			return simpleassets.ErrQuotaExceeded
		}
		return insertAsset(ctx, tx, asset)
	})
	if err != nil {
		if errors.Is(err, simpleassets.ErrQuotaExceeded) {
			return err
		}
		return r.handlePostgresError("create asset under limit", err)
	}
	return nil
}

func insertAsset(ctx context.Context, db DBTX, asset *simpleassets.Asset) error {
	query := `
		INSERT INTO asset (
			id, owner_type, owner_id, asset_type, name, storage_key, url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	_, err := db.Exec(ctx, query,
		asset.ID, string(asset.Owner.Type), asset.Owner.ID, string(asset.Type), asset.Name,
		asset.StorageKey, asset.URL, asset.CreatedAt, asset.UpdatedAt)
	return err
}

func countAssets(ctx context.Context, db DBTX, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) (int, error) {
	var n int
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM asset WHERE owner_type = $1 AND owner_id = $2 AND asset_type = $3`,
		string(owner.Type), owner.ID, string(assetType)).Scan(&n)
	return n, err
}

func (r *Repository) CountByOwnerAndType(ctx context.Context, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) (int, error) {
	n, err := countAssets(ctx, r.db, owner, assetType)
	if err != nil {
		return 0, r.handlePostgresError("count assets", err)
	}
	return n, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*simpleassets.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset WHERE id = $1`

	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleassets.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("find asset", err)
	}
	return asset, nil
}

func (r *Repository) FindByOwner(ctx context.Context, owner simpleassets.OwnerRef) ([]*simpleassets.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY created_at ASC, id ASC`
	return r.list(ctx, "find assets by owner", query, string(owner.Type), owner.ID)
}

func (r *Repository) ListByOwnerAndType(ctx context.Context, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) ([]*simpleassets.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM asset
		WHERE owner_type = $1 AND owner_id = $2 AND asset_type = $3
		ORDER BY created_at ASC, id ASC`
	return r.list(ctx, "list assets by owner and type", query, string(owner.Type), owner.ID, string(assetType))
}

func (r *Repository) list(ctx context.Context, op, query string, args ...interface{}) ([]*simpleassets.Asset, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	defer rows.Close()

	var assets []*simpleassets.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError(op, err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(op, err)
	}
	return assets, nil
}

func (r *Repository) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE asset SET name = $2, updated_at = $3 WHERE id = $1`,
		id, name, time.Now().UTC())
	if err != nil {
		return r.handlePostgresError("rename asset", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM asset WHERE id = $1`, id); err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	return nil
}

func (r *Repository) DeleteByOwnerAndType(ctx context.Context, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM asset WHERE owner_type = $1 AND owner_id = $2 AND asset_type = $3`,
		string(owner.Type), owner.ID, string(assetType))
	if err != nil {
		return 0, r.handlePostgresError("delete assets by owner and type", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAsset(row pgx.Row) (*simpleassets.Asset, error) {
	var a simpleassets.Asset
	var ownerType, assetType string
	err := row.Scan(&a.ID, &ownerType, &a.Owner.ID, &assetType, &a.Name,
		&a.StorageKey, &a.URL, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Owner.Type = simpleassets.OwnerType(ownerType)
	a.Type = simpleassets.AssetType(assetType)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
