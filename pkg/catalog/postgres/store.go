// Package postgres reads product variants from PostgreSQL and adjusts their
// stock with a single conditional UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/groupcart/pkg/catalog"
	"github.com/txn2/groupcart/pkg/database"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var variantColumns = []string{
	"id", "label", "actual_price", "discounted_price", "stock", "is_active",
}

const (
	adjustStockQuery = `UPDATE product_variants
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock - $2 >= 0`
	variantExistsQuery = `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id = $1)`
)

// Store implements catalog.Catalog using PostgreSQL. Stock adjustments join
// the transaction carried on the context, if any.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL catalog store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Variant returns the variant with the given id.
func (s *Store) Variant(ctx context.Context, id catalog.VariantID) (*catalog.Variant, error) {
	query, args, err := psq.Select(variantColumns...).From("product_variants").
		Where(sq.Eq{"id": string(id)}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building variant query: %w", err)
	}

	var v catalog.Variant
	err = database.Conn(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(
		&v.ID, &v.Label, &v.ActualPrice, &v.DiscountedPrice, &v.Stock, &v.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying variant: %w", err)
	}
	return &v, nil
}

// Variants returns the variants that exist among ids.
func (s *Store) Variants(ctx context.Context, ids []catalog.VariantID) (map[catalog.VariantID]catalog.Variant, error) {
	out := make(map[catalog.VariantID]catalog.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	query, args, err := psq.Select(variantColumns...).From("product_variants").
		Where(sq.Eq{"id": keys}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building variants query: %w", err)
	}

	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying variants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v catalog.Variant
		if err := rows.Scan(&v.ID, &v.Label, &v.ActualPrice, &v.DiscountedPrice, &v.Stock, &v.IsActive); err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variants: %w", err)
	}
	return out, nil
}

// TryAdjust subtracts delta from the variant's stock in one statement. The
// WHERE clause refuses any update that would drive stock negative, so
// concurrent reservations cannot oversell.
func (s *Store) TryAdjust(ctx context.Context, id catalog.VariantID, delta int) error {
	if delta == 0 {
		return nil
	}

	q := database.Conn(ctx, s.db)
	res, err := q.ExecContext(ctx, adjustStockQuery, string(id), delta)
	if err != nil {
		return fmt.Errorf("adjusting stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, variantExistsQuery, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("checking variant: %w", err)
	}
	if !exists {
		return catalog.ErrVariantNotFound
	}
	return catalog.ErrInsufficientStock
}

// Verify interface compliance.
var _ catalog.Catalog = (*Store)(nil)
