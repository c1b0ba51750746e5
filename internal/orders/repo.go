package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	"github.com/ariefcatur/go-shop-orders/internal/policy"
)

// Repo is the order transaction manager: every multi-row mutation (reserve
// all lines + write the order, or release all lines + flip the status) runs
// inside one pgx transaction and commits or rolls back as a unit.
type Repo struct{ DB *pgxpool.Pool }

// CreateOrder validates the request, reserves stock for every line, snapshots
// product name/price into order items, and persists the aggregate. Any
// failure rolls the whole thing back: no stock stays decremented for an order
// that was never written.
func (r *Repo) CreateOrder(ctx context.Context, userID string, items []ItemInput) (Order, error) {
	if len(items) == 0 {
		return Order{}, ErrEmptyOrder
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Order{}, &InvalidQuantityError{Slug: it.ProductSlug, Quantity: it.Quantity}
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cat := &catalog.Repo{DB: tx}
	products, err := cat.FindBySlugs(ctx, distinctSlugs(items))
	if err != nil {
		return Order{}, err
	}
	var missing []string
	for _, it := range items {
		if _, ok := products[it.ProductSlug]; !ok {
			missing = append(missing, it.ProductSlug)
		}
	}
	if len(missing) > 0 {
		return Order{}, &ProductsNotFoundError{Slugs: missing}
	}

	// Two lines with the same slug stay separate: each is its own
	// reservation against the shared counter.
	ledger := &catalog.StockLedger{DB: tx}
	total := decimal.Zero
	for _, it := range items {
		if _, err := ledger.Reserve(ctx, it.ProductSlug, it.Quantity); err != nil {
			return Order{}, err
		}
		total = total.Add(products[it.ProductSlug].Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	o := Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     StatusPending,
		TotalPrice: total,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, total_price)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.Status, o.TotalPrice).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}

	for _, it := range items {
		p := products[it.ProductSlug]
		item := OrderItem{
			ID:                  uuid.NewString(),
			OrderID:             o.ID,
			ProductSlug:         p.Slug,
			ProductNameSnapshot: p.Name,
			Quantity:            it.Quantity,
			PriceAtTime:         p.Price,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_slug, product_name_snapshot, quantity, price_at_time)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductSlug, item.ProductNameSnapshot, item.Quantity, item.PriceAtTime)
		if err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// CancelOrder releases every line's stock and flips the order to cancelled in
// one transaction. Cancellation is not idempotent: a second attempt fails
// with InvalidTransitionError. Products deleted since the order was placed
// release as a no-op; the remaining lines still restock.
func (r *Repo) CancelOrder(ctx context.Context, caller policy.Caller, orderID string) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getScoped(ctx, tx, caller, orderID, true)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return Order{}, &InvalidTransitionError{From: o.Status, To: StatusCancelled}
	}

	o.Items, err = loadItems(ctx, tx, o.ID)
	if err != nil {
		return Order{}, err
	}

	ledger := &catalog.StockLedger{DB: tx}
	for _, it := range o.Items {
		if _, err := ledger.Release(ctx, it.ProductSlug, it.Quantity); err != nil {
			return Order{}, err
		}
	}

	err = tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`, o.ID, StatusCancelled).Scan(&o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = StatusCancelled

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetOrder loads one order with its items, scoped to the caller. An order
// owned by someone else reads as not found, never as forbidden.
func (r *Repo) GetOrder(ctx context.Context, caller policy.Caller, orderID string) (Order, error) {
	o, err := getScoped(ctx, r.DB, caller, orderID, false)
	if err != nil {
		return Order{}, err
	}
	o.Items, err = loadItems(ctx, r.DB, o.ID)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListOrders returns the caller's orders, or every order for admins.
func (r *Repo) ListOrders(ctx context.Context, caller policy.Caller) ([]Order, error) {
	q := `SELECT id, user_id, status, total_price, created_at, updated_at
	      FROM orders`
	args := []any{}
	if !caller.Admin {
		q += ` WHERE user_id = $1`
		args = append(args, caller.UserID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	ids := []string{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	itemRows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_slug, product_name_snapshot, quantity, price_at_time
		FROM order_items WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	byOrder := make(map[string][]OrderItem, len(out))
	for itemRows.Next() {
		var it OrderItem
		if err := itemRows.Scan(&it.ID, &it.OrderID, &it.ProductSlug, &it.ProductNameSnapshot, &it.Quantity, &it.PriceAtTime); err != nil {
			return nil, err
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = byOrder[out[i].ID]
	}
	return out, nil
}

func getScoped(ctx context.Context, db catalog.DBTX, caller policy.Caller, orderID string, forUpdate bool) (Order, error) {
	q := `SELECT id, user_id, status, total_price, created_at, updated_at
	      FROM orders WHERE id = $1`
	args := []any{orderID}
	if !caller.Admin {
		q += ` AND user_id = $2`
		args = append(args, caller.UserID)
	}
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var o Order
	err := db.QueryRow(ctx, q, args...).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func loadItems(ctx context.Context, db catalog.DBTX, orderID string) ([]OrderItem, error) {
	rows, err := db.Query(ctx, `
		SELECT id, order_id, product_slug, product_name_snapshot, quantity, price_at_time
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductSlug, &it.ProductNameSnapshot, &it.Quantity, &it.PriceAtTime); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func distinctSlugs(items []ItemInput) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductSlug] {
			seen[it.ProductSlug] = true
			out = append(out, it.ProductSlug)
		}
	}
	return out
}
