package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-market/internal/promo"
	"github.com/noah-isme/backend-market/internal/shipping"
	"github.com/noah-isme/backend-market/internal/tax"
)

type memStore struct {
	discounts []promo.Discount
	zones     []tax.Zone
	rates     []tax.Rate
	methods   []shipping.Method
	nextID    int64
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Discounts(context.Context) ([]promo.Discount, error) { return m.discounts, nil }

func (m *memStore) SaveDiscount(_ context.Context, d promo.Discount) (int64, error) {
	if d.ID == 0 {
		d.ID = m.id()
	}
	m.discounts = append(m.discounts, d)
	return d.ID, nil
}

func (m *memStore) DeleteDiscount(_ context.Context, id int64) error {
	for i, d := range m.discounts {
		if d.ID == id {
			m.discounts = append(m.discounts[:i], m.discounts[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) TaxZones(context.Context) ([]tax.Zone, error) { return m.zones, nil }

func (m *memStore) SaveZone(_ context.Context, z tax.Zone) (int64, error) {
	if z.ID == 0 {
		z.ID = m.id()
	}
	m.zones = append(m.zones, z)
	return z.ID, nil
}

func (m *memStore) TaxRates(context.Context) ([]tax.Rate, error) { return m.rates, nil }

func (m *memStore) SaveRate(_ context.Context, r tax.Rate) (int64, error) {
	if r.ID == 0 {
		r.ID = m.id()
	}
	m.rates = append(m.rates, r)
	return r.ID, nil
}

func (m *memStore) ShippingMethods(context.Context) ([]shipping.Method, error) {
	return m.methods, nil
}

func (m *memStore) SaveMethod(_ context.Context, sm shipping.Method) (int64, error) {
	if sm.ID == 0 {
		sm.ID = m.id()
	}
	m.methods = append(m.methods, sm)
	return sm.ID, nil
}

func newAdminRouter(store *memStore) chi.Router {
	h := &Handler{Store: store}
	r := chi.NewRouter()
	r.Get("/discounts", h.ListDiscounts)
	r.Post("/discounts", h.SaveDiscount)
	r.Delete("/discounts/{id}", h.DeleteDiscount)
	r.Post("/tax-zones", h.SaveZone)
	r.Post("/tax-rates", h.SaveRate)
	r.Post("/shipping-methods", h.SaveMethod)
	return r
}

func post(t *testing.T, router http.Handler, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSaveDiscountRejectsBadRate(t *testing.T) {
	store := &memStore{}
	router := newAdminRouter(store)

	rec := post(t, router, "/discounts", promo.Discount{
		Name:    "Too generous",
		Enabled: true,
		Effects: []promo.Effect{
			{Kind: promo.EffectPercentOff, Rate: decimal.RequireFromString("1.5"), Subject: promo.SubjectOriginal},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(store.discounts) != 0 {
		t.Fatal("invalid discount reached the store")
	}
}

func TestSaveAndDeleteDiscount(t *testing.T) {
	store := &memStore{}
	router := newAdminRouter(store)

	rec := post(t, router, "/discounts", promo.Discount{
		Name:       "Spring sale",
		Enabled:    true,
		CouponCode: "SPRING",
		Effects: []promo.Effect{
			{Kind: promo.EffectPercentOff, Rate: decimal.RequireFromString("0.10"), Subject: promo.SubjectOriginal},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save: status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(store.discounts) != 1 {
		t.Fatalf("stored %d discounts", len(store.discounts))
	}

	req := httptest.NewRequest(http.MethodDelete, "/discounts/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/discounts/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d", rec.Code)
	}
}

func TestSaveRateUnknownZone(t *testing.T) {
	store := &memStore{}
	router := newAdminRouter(store)

	rec := post(t, router, "/tax-rates", tax.Rate{
		Name: "Orphan", ZoneID: 42, Rate: decimal.RequireFromString("0.05"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestSaveRateRemovableIncludedNeedsDefaultZone(t *testing.T) {
	store := &memStore{
		zones: []tax.Zone{
			{ID: 1, Name: "Everywhere", Default: true},
			{ID: 2, Name: "EU"},
		},
	}
	router := newAdminRouter(store)

	rate := tax.Rate{
		Name: "VAT", ZoneID: 2, Rate: decimal.RequireFromString("0.20"),
		Include: true, IsVat: true, RemoveIncluded: true,
	}
	rec := post(t, router, "/tax-rates", rate)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-default zone: status = %d body = %s", rec.Code, rec.Body.String())
	}

	rate.ZoneID = 1
	rec = post(t, router, "/tax-rates", rate)
	if rec.Code != http.StatusOK {
		t.Fatalf("default zone: status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(store.rates) != 1 {
		t.Fatalf("stored %d rates", len(store.rates))
	}
}

func TestSaveMethodRejectsNegativeRate(t *testing.T) {
	store := &memStore{}
	router := newAdminRouter(store)

	rec := post(t, router, "/shipping-methods", shipping.Method{
		Name: "Ground", Handle: "ground", BaseRate: decimal.RequireFromString("-1"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = post(t, router, "/shipping-methods", shipping.Method{
		Name: "Ground", Handle: "ground", BaseRate: decimal.RequireFromString("4.95"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid method: status = %d body = %s", rec.Code, rec.Body.String())
	}
}
