package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// StockLedger mutates the per-product stock counter. Run it over a pgx.Tx so
// reservations roll back with the rest of the unit of work.
type StockLedger struct{ DB DBTX }

// Reserve decrements stock by qty and returns the new value. The decrement is
// a single conditional update, so two concurrent reservations can never drive
// the counter below zero: whichever one misses the `stock >= qty` guard fails
// with InsufficientStockError.
func (l *StockLedger) Reserve(ctx context.Context, slug string, qty int) (int, error) {
	var stock int
	err := l.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE slug = $1 AND stock >= $2
		RETURNING stock`, slug, qty).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// The guard missed: either the product is gone or stock is short.
	var available int
	err = l.DB.QueryRow(ctx, `SELECT stock FROM products WHERE slug = $1`, slug).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return 0, &InsufficientStockError{Slug: slug, Available: available, Requested: qty}
}

// Release returns previously reserved units to stock. There is no upper
// bound, and releasing against a product deleted after the order was placed
// is a no-op rather than an error.
func (l *StockLedger) Release(ctx context.Context, slug string, qty int) (int, error) {
	var stock int
	err := l.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE slug = $1
		RETURNING stock`, slug, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}
