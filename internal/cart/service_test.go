package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/order"
	"github.com/noah-isme/backend-market/internal/session"
)

type memOrders struct {
	byNumber map[string]*order.Order
	saves    int
	purged   int64
}

func newMemOrders() *memOrders {
	return &memOrders{byNumber: make(map[string]*order.Order)}
}

// cloneOrder mirrors the real repo's row-decode semantics: callers get an
// independent copy, so mutating a loaded order never aliases stored state.
func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.ShippingAddress = o.ShippingAddress.Clone()
	cp.BillingAddress = o.BillingAddress.Clone()
	cp.LineItems = append([]order.LineItem(nil), o.LineItems...)
	cp.Adjustments = append([]order.Adjustment(nil), o.Adjustments...)
	if o.DateOrdered != nil {
		t := *o.DateOrdered
		cp.DateOrdered = &t
	}
	if o.DatePaid != nil {
		t := *o.DatePaid
		cp.DatePaid = &t
	}
	if o.DateCompleted != nil {
		t := *o.DateCompleted
		cp.DateCompleted = &t
	}
	return &cp
}

func (m *memOrders) ByNumber(_ context.Context, number string) (*order.Order, error) {
	o, ok := m.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrders) Save(_ context.Context, o *order.Order) error {
	m.saves++
	m.byNumber[o.Number] = cloneOrder(o)
	return nil
}

func (m *memOrders) MostRecentIncomplete(_ context.Context, customerID string) (*order.Order, error) {
	var newest *order.Order
	for _, o := range m.byNumber {
		if o.CustomerID != customerID || o.State != order.StateCart {
			continue
		}
		if newest == nil || o.DateUpdated.After(newest.DateUpdated) {
			newest = o
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (m *memOrders) PurgeStale(_ context.Context, cutoff time.Time) (int64, error) {
	for number, o := range m.byNumber {
		if o.State == order.StateCart && o.DateUpdated.Before(cutoff) {
			delete(m.byNumber, number)
			m.purged++
		}
	}
	return m.purged, nil
}

func newService(orders *memOrders) *Service {
	return &Service{
		Sessions: session.NewMemory(time.Hour),
		Orders:   orders,
		Currency: "USD",
	}
}

func TestLoadOrCreateIsLazy(t *testing.T) {
	orders := newMemOrders()
	svc := newService(orders)
	ctx := context.Background()

	cur, err := svc.LoadOrCreate(ctx, "sess-1", common.Identity{})
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Fresh() || !cur.Dirty() {
		t.Fatal("a brand new cart is fresh and dirty")
	}
	if orders.saves != 0 {
		t.Fatal("loading must not persist anything")
	}
	if _, err := svc.Sessions.Get(ctx, "sess-1", session.KeyCartNumber); !errors.Is(err, session.ErrNotFound) {
		t.Fatal("session must stay unbound until the cart is persisted")
	}
}

func TestPersistThenReloadZeroWrites(t *testing.T) {
	orders := newMemOrders()
	svc := newService(orders)
	ctx := context.Background()
	ident := common.Identity{Email: "a@example.com", IP: "10.0.0.1"}

	cur, err := svc.LoadOrCreate(ctx, "sess-1", ident)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.PersistIfDirty(ctx, "sess-1", cur); err != nil {
		t.Fatal(err)
	}
	if orders.saves != 1 {
		t.Fatalf("expected 1 save, got %d", orders.saves)
	}

	// Same session, same identity: a pure read performs no writes.
	cur2, err := svc.LoadOrCreate(ctx, "sess-1", ident)
	if err != nil {
		t.Fatal(err)
	}
	if cur2.Fresh() || cur2.Dirty() {
		t.Fatal("reloading an unchanged cart must not dirty it")
	}
	if err := svc.PersistIfDirty(ctx, "sess-1", cur2); err != nil {
		t.Fatal(err)
	}
	if orders.saves != 1 {
		t.Fatalf("expected no further saves, got %d", orders.saves)
	}
	if cur2.Order.Number != cur.Order.Number {
		t.Fatal("session must resolve to the same cart")
	}
}

func TestIPChangeCostsOneWrite(t *testing.T) {
	orders := newMemOrders()
	svc := newService(orders)
	ctx := context.Background()

	cur, _ := svc.LoadOrCreate(ctx, "sess-1", common.Identity{IP: "10.0.0.1"})
	if err := svc.PersistIfDirty(ctx, "sess-1", cur); err != nil {
		t.Fatal(err)
	}

	cur2, _ := svc.LoadOrCreate(ctx, "sess-1", common.Identity{IP: "10.0.0.2"})
	if !cur2.Dirty() {
		t.Fatal("an IP change must dirty the cart")
	}
	if err := svc.PersistIfDirty(ctx, "sess-1", cur2); err != nil {
		t.Fatal(err)
	}
	if orders.saves != 2 {
		t.Fatalf("expected exactly 2 saves, got %d", orders.saves)
	}
	if cur2.Order.LastIP != "10.0.0.2" {
		t.Fatalf("expected updated IP, got %s", cur2.Order.LastIP)
	}
}

func TestCompletedCartIsNotReused(t *testing.T) {
	orders := newMemOrders()
	svc := newService(orders)
	ctx := context.Background()

	cur, _ := svc.LoadOrCreate(ctx, "sess-1", common.Identity{})
	if err := svc.PersistIfDirty(ctx, "sess-1", cur); err != nil {
		t.Fatal(err)
	}
	cur.Order.State = order.StateCompleted
	orders.byNumber[cur.Order.Number].State = order.StateCompleted

	cur2, err := svc.LoadOrCreate(ctx, "sess-1", common.Identity{})
	if err != nil {
		t.Fatal(err)
	}
	if !cur2.Fresh() {
		t.Fatal("a completed order must be replaced by a fresh cart")
	}
	if cur2.Order.Number == cur.Order.Number {
		t.Fatal("fresh cart must get a new number")
	}
}

func TestForgetAndRestore(t *testing.T) {
	orders := newMemOrders()
	svc := newService(orders)
	ctx := context.Background()
	ident := common.Identity{CustomerID: "cust-1", Email: "a@example.com"}

	cur, _ := svc.LoadOrCreate(ctx, "sess-1", ident)
	if err := svc.PersistIfDirty(ctx, "sess-1", cur); err != nil {
		t.Fatal(err)
	}

	if err := svc.Forget(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Sessions.Get(ctx, "sess-1", session.KeyCartNumber); !errors.Is(err, session.ErrNotFound) {
		t.Fatal("forget must unbind the session")
	}

	restored, err := svc.RestorePreviousCart(ctx, "sess-1", ident)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Order.Number != cur.Order.Number {
		t.Fatal("restore must find the previous cart")
	}

	if _, err := svc.RestorePreviousCart(ctx, "sess-1", common.Identity{}); !common.IsKind(err, common.KindValidation) {
		t.Fatalf("anonymous restore must be rejected, got %v", err)
	}
}

func TestPurgeIncompleteCarts(t *testing.T) {
	orders := newMemOrders()
	now := time.Now()
	svc := newService(orders)
	svc.PurgeEnabled = true
	svc.PurgeAfter = 24 * time.Hour
	svc.Now = func() time.Time { return now }
	ctx := context.Background()

	stale := order.New("USD")
	stale.DateUpdated = now.Add(-48 * time.Hour)
	live := order.New("USD")
	live.DateUpdated = now.Add(-time.Hour)
	orders.byNumber[stale.Number] = stale
	orders.byNumber[live.Number] = live

	purged, err := svc.PurgeIncompleteCarts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged cart, got %d", purged)
	}
	if _, ok := orders.byNumber[live.Number]; !ok {
		t.Fatal("live cart must survive the purge")
	}

	svc.PurgeEnabled = false
	if n, err := svc.PurgeIncompleteCarts(ctx); err != nil || n != 0 {
		t.Fatalf("disabled purge must be a no-op, got %d, %v", n, err)
	}
}
