package catalog

import (
	"errors"
	"fmt"
)

var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError reports a reservation that would drive stock below
// zero. Available is the stock observed when the conditional update missed.
type InsufficientStockError struct {
	Slug      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.Slug, e.Available, e.Requested)
}
