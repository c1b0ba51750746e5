package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Status     Status          `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Items      []OrderItem     `json:"order_items"`
}

// OrderItem is a historical record: slug is a soft reference and name/price
// are snapshots taken at order time. It is never updated after creation.
type OrderItem struct {
	ID                  string          `json:"id"`
	OrderID             string          `json:"order_id"`
	ProductSlug         string          `json:"product_slug"`
	ProductNameSnapshot string          `json:"product_name_snapshot"`
	Quantity            int             `json:"quantity"`
	PriceAtTime         decimal.Decimal `json:"price_at_time"`
}

type ItemInput struct {
	ProductSlug string `json:"product_slug"`
	Quantity    int    `json:"quantity"`
}

// StatusSnapshot is the blob cached under redisx.KeyOrderStatus. UserID rides
// along so cached reads can apply the same visibility rule as the store.
type StatusSnapshot struct {
	Status Status `json:"status"`
	UserID string `json:"user_id"`
}
