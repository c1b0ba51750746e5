package policy

import "errors"

// Caller is the identity the auth layer (external to this service) resolved
// for the request.
type Caller struct {
	UserID string
	Admin  bool
}

type Action string

const (
	ActionPlaceOrder  Action = "order:place"
	ActionCancelOrder Action = "order:cancel"
	ActionViewOrders  Action = "order:view"
)

var ErrDenied = errors.New("forbidden")

// Gate decides whether a caller may perform an action on a resource owned by
// resourceOwnerID. nil means allow.
type Gate interface {
	Authorize(c Caller, a Action, resourceOwnerID string) error
}

// OwnerOrAdmin allows admins everything and everyone else only actions on
// their own resources.
type OwnerOrAdmin struct{}

func (OwnerOrAdmin) Authorize(c Caller, _ Action, resourceOwnerID string) error {
	if c.Admin {
		return nil
	}
	if c.UserID != "" && c.UserID == resourceOwnerID {
		return nil
	}
	return ErrDenied
}
