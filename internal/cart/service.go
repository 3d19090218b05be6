// Package cart manages cart identity and lifecycle: which order a visitor's
// session points at, when a new cart is created, and when stale carts are
// purged. Loading is split from persisting so read-only requests never write.
package cart

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/order"
	"github.com/noah-isme/backend-market/internal/session"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// OrderStore is the order persistence port the cart manager needs.
// Implementations must return ErrNotFound for missing numbers.
type OrderStore interface {
	ByNumber(ctx context.Context, number string) (*order.Order, error)
	Save(ctx context.Context, o *order.Order) error
	// MostRecentIncomplete returns the customer's newest order still in the
	// cart state, or ErrNotFound.
	MostRecentIncomplete(ctx context.Context, customerID string) (*order.Order, error)
	// PurgeStale deletes cart-state orders not updated since the cutoff and
	// reports how many were removed.
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service resolves the current cart for a session. A zero TTL or currency
// falls back to sane defaults so a partially wired service stays usable in
// tests.
type Service struct {
	Sessions session.Store
	Orders   OrderStore
	Currency string

	// PurgeEnabled gates the background removal of abandoned carts.
	PurgeEnabled bool
	// PurgeAfter is how long an untouched cart survives before purging.
	PurgeAfter time.Duration

	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) currency() string {
	if s == nil || s.Currency == "" {
		return "USD"
	}
	return s.Currency
}

// Current is the resolved cart for one request. Mutations mark it dirty;
// only dirty carts are written back, so a plain read costs zero writes.
type Current struct {
	Order *order.Order

	dirty bool
	fresh bool
}

// MarkDirty records that the order needs persisting.
func (c *Current) MarkDirty() { c.dirty = true }

// Dirty reports whether the cart has unpersisted changes.
func (c *Current) Dirty() bool { return c.dirty }

// Fresh reports whether the cart was created by this request rather than
// loaded from the session.
func (c *Current) Fresh() bool { return c.fresh }

// LoadOrCreate resolves the session's cart, creating a new in-memory one
// when the session has none or points at a completed order. Nothing is
// persisted here: a freshly created cart only reaches storage once
// PersistIfDirty runs after a mutation.
func (s *Service) LoadOrCreate(ctx context.Context, sessionID string, ident common.Identity) (*Current, error) {
	if s == nil || s.Sessions == nil || s.Orders == nil {
		return nil, errors.New("cart service not configured")
	}

	number, err := s.Sessions.Get(ctx, sessionID, session.KeyCartNumber)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}

	if number != "" {
		o, err := s.Orders.ByNumber(ctx, number)
		switch {
		case errors.Is(err, ErrNotFound):
			// Session points at a purged cart; fall through and start over.
		case err != nil:
			return nil, err
		case o.IsCompleted():
			// Completed orders are never reused as carts.
		default:
			cur := &Current{Order: o}
			s.stampIdentity(cur, ident)
			return cur, nil
		}
	}

	o := order.New(s.currency())
	o.DateCreated = s.now()
	cur := &Current{Order: o, dirty: true, fresh: true}
	s.stampIdentity(cur, ident)
	return cur, nil
}

// stampIdentity copies the visitor identity onto the order, dirtying the
// cart only when something actually changed.
func (s *Service) stampIdentity(cur *Current, ident common.Identity) {
	o := cur.Order
	if ident.CustomerID != "" && o.CustomerID != ident.CustomerID {
		o.CustomerID = ident.CustomerID
		cur.dirty = true
	}
	if ident.Email != "" && o.Email != ident.Email {
		o.Email = ident.Email
		cur.dirty = true
	}
	if ident.IP != "" && o.LastIP != ident.IP {
		o.LastIP = ident.IP
		cur.dirty = true
	}
}

// PersistIfDirty writes the cart and binds it to the session, but only when
// something changed. Safe to call unconditionally at the end of a request.
func (s *Service) PersistIfDirty(ctx context.Context, sessionID string, cur *Current) error {
	if s == nil || cur == nil || !cur.dirty {
		return nil
	}
	cur.Order.DateUpdated = s.now()
	if err := s.Orders.Save(ctx, cur.Order); err != nil {
		return err
	}
	if err := s.Sessions.Set(ctx, sessionID, session.KeyCartNumber, cur.Order.Number); err != nil {
		return err
	}
	cur.dirty = false
	cur.fresh = false
	return nil
}

// Forget detaches the session from its cart. The order itself is untouched
// and can be restored later.
func (s *Service) Forget(ctx context.Context, sessionID string) error {
	if s == nil || s.Sessions == nil {
		return errors.New("cart service not configured")
	}
	return s.Sessions.Delete(ctx, sessionID, session.KeyCartNumber)
}

// RestorePreviousCart points the session back at the customer's most recent
// incomplete cart and refreshes its identity context. Requires an
// authenticated identity.
func (s *Service) RestorePreviousCart(ctx context.Context, sessionID string, ident common.Identity) (*Current, error) {
	if s == nil || s.Sessions == nil || s.Orders == nil {
		return nil, errors.New("cart service not configured")
	}
	if !ident.LoggedIn() {
		return nil, common.NewValidation("LOGIN_REQUIRED", "restoring a cart requires a signed-in customer", nil)
	}
	o, err := s.Orders.MostRecentIncomplete(ctx, ident.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Set(ctx, sessionID, session.KeyCartNumber, o.Number); err != nil {
		return nil, err
	}
	cur := &Current{Order: o}
	s.stampIdentity(cur, ident)
	return cur, nil
}

// PurgeIncompleteCarts removes carts untouched for longer than the purge
// horizon. A no-op unless purging is enabled.
func (s *Service) PurgeIncompleteCarts(ctx context.Context) (int64, error) {
	if s == nil || s.Orders == nil {
		return 0, errors.New("cart service not configured")
	}
	if !s.PurgeEnabled {
		return 0, nil
	}
	after := s.PurgeAfter
	if after <= 0 {
		after = 90 * 24 * time.Hour
	}
	return s.Orders.PurgeStale(ctx, s.now().Add(-after))
}
