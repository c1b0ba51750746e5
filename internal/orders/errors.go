package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyOrder = errors.New("order has no items")

	// ErrNotFound covers both absent orders and orders the caller may not
	// see; the two are deliberately indistinguishable.
	ErrNotFound = errors.New("order not found")
)

type InvalidQuantityError struct {
	Slug     string
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.Slug)
}

type ProductsNotFoundError struct {
	Slugs []string
}

func (e *ProductsNotFoundError) Error() string {
	return fmt.Sprintf("products not found: %s", strings.Join(e.Slugs, ", "))
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}
