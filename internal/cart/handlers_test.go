package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-market/internal/catalog"
	"github.com/noah-isme/backend-market/internal/money"
	"github.com/noah-isme/backend-market/internal/order"
	"github.com/noah-isme/backend-market/internal/promo"
	"github.com/noah-isme/backend-market/internal/shipping"
	"github.com/noah-isme/backend-market/internal/tax"
)

type stubCatalog struct{}

func (stubCatalog) ActiveDiscounts(context.Context) ([]promo.Discount, error) { return nil, nil }
func (stubCatalog) TaxZones(context.Context) ([]tax.Zone, error)              { return nil, nil }
func (stubCatalog) TaxRates(context.Context) ([]tax.Rate, error)              { return nil, nil }
func (stubCatalog) ShippingMethod(context.Context, string) (*shipping.Method, error) {
	return nil, nil
}

type stubSource map[int64]catalog.Purchasable

func (s stubSource) PurchasableByID(_ context.Context, id int64) (*catalog.Purchasable, error) {
	p, ok := s[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func newTestRouter(orders *memOrders) (*chi.Mux, *Handler) {
	h := &Handler{
		Svc:  newService(orders),
		Calc: &order.Calculator{Catalog: stubCatalog{}},
		Catalog: stubSource{
			1: {ID: 1, SKU: "MUG-01", Description: "Coffee Mug", Price: money.MustFromString("12.50")},
		},
	}
	r := chi.NewRouter()
	r.Get("/cart", h.Get)
	r.Post("/cart/items", h.AddItem)
	r.Patch("/cart/items/{lineID}", h.UpdateItem)
	r.Delete("/cart/items/{lineID}", h.RemoveItem)
	r.Put("/cart/coupon", h.ApplyCoupon)
	return r, h
}

type cartEnvelope struct {
	Data struct {
		Number     string `json:"number"`
		CouponCode string `json:"couponCode"`
		ItemTotal  string `json:"itemTotal"`
		FinalPrice string `json:"finalPrice"`
		LineItems  []struct {
			ID  int64 `json:"id"`
			Qty int   `json:"qty"`
		} `json:"lineItems"`
	} `json:"data"`
}

func doRequest(t *testing.T, router http.Handler, method, target, body string, cookie *http.Cookie) (*httptest.ResponseRecorder, cartEnvelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env cartEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestGetPersistsFreshCartOnce(t *testing.T) {
	orders := newMemOrders()
	router, _ := newTestRouter(orders)

	rec, env := doRequest(t, router, http.MethodGet, "/cart", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if env.Data.Number == "" {
		t.Fatal("expected a cart number")
	}
	if orders.saves != 1 {
		t.Fatalf("a fresh cart must persist exactly once, got %d writes", orders.saves)
	}
	cookie := sessionCookie(t, rec)

	// Same session, unchanged identity: the read costs zero writes.
	rec, env2 := doRequest(t, router, http.MethodGet, "/cart", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env2.Data.Number != env.Data.Number {
		t.Fatal("session must resolve to the same cart")
	}
	if orders.saves != 1 {
		t.Fatalf("clean read performed %d extra writes", orders.saves-1)
	}
}

func TestGetRefreshesChangedIP(t *testing.T) {
	orders := newMemOrders()
	router, _ := newTestRouter(orders)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.RemoteAddr = "10.0.0.1:1000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	cookie := sessionCookie(t, rec)
	if orders.saves != 1 {
		t.Fatalf("saves after first read = %d", orders.saves)
	}

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.RemoteAddr = "10.0.0.2:1000"
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if orders.saves != 2 {
		t.Fatalf("a read with a changed IP must write exactly once, got %d total saves", orders.saves)
	}
	var stored *order.Order
	for _, o := range orders.byNumber {
		stored = o
	}
	if stored == nil || stored.LastIP != "10.0.0.2:1000" {
		t.Fatalf("stored cart must carry the refreshed IP, got %+v", stored)
	}
}

func TestAddItemPersistsAndPrices(t *testing.T) {
	orders := newMemOrders()
	router, _ := newTestRouter(orders)

	rec, _ := doRequest(t, router, http.MethodGet, "/cart", "", nil)
	cookie := sessionCookie(t, rec)

	rec, env := doRequest(t, router, http.MethodPost, "/cart/items",
		`{"purchasableId":1,"qty":2}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(env.Data.LineItems) != 1 || env.Data.LineItems[0].Qty != 2 {
		t.Fatalf("line items = %+v", env.Data.LineItems)
	}
	if env.Data.ItemTotal != "25" {
		t.Fatalf("item total = %s", env.Data.ItemTotal)
	}
	if orders.saves != 2 {
		t.Fatalf("saves = %d, want the fresh-cart write plus the mutation", orders.saves)
	}

	// Same purchasable merges onto the existing line.
	rec, env = doRequest(t, router, http.MethodPost, "/cart/items",
		`{"purchasableId":1,"qty":1}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.Data.LineItems) != 1 || env.Data.LineItems[0].Qty != 3 {
		t.Fatalf("line items after merge = %+v", env.Data.LineItems)
	}
}

func TestAddUnknownPurchasable(t *testing.T) {
	orders := newMemOrders()
	router, _ := newTestRouter(orders)

	rec, _ := doRequest(t, router, http.MethodGet, "/cart", "", nil)
	cookie := sessionCookie(t, rec)

	rec, _ = doRequest(t, router, http.MethodPost, "/cart/items",
		`{"purchasableId":99,"qty":1}`, cookie)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if orders.saves != 1 {
		t.Fatalf("a rejected mutation must not write, got %d saves", orders.saves)
	}
}

func TestRejectedCouponDoesNotStick(t *testing.T) {
	orders := newMemOrders()
	router, _ := newTestRouter(orders)

	rec, _ := doRequest(t, router, http.MethodGet, "/cart", "", nil)
	cookie := sessionCookie(t, rec)

	rec, _ = doRequest(t, router, http.MethodPost, "/cart/items",
		`{"purchasableId":1,"qty":1}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed item: status = %d", rec.Code)
	}

	rec, _ = doRequest(t, router, http.MethodPut, "/cart/coupon",
		`{"code":"NOPE"}`, cookie)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec, env := doRequest(t, router, http.MethodGet, "/cart", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.Data.CouponCode != "" {
		t.Fatalf("rejected coupon persisted: %q", env.Data.CouponCode)
	}
}

func TestUpdateAndRemoveLine(t *testing.T) {
	orders := newMemOrders()
	router, _ := newTestRouter(orders)

	rec, _ := doRequest(t, router, http.MethodGet, "/cart", "", nil)
	cookie := sessionCookie(t, rec)

	rec, env := doRequest(t, router, http.MethodPost, "/cart/items",
		`{"purchasableId":1,"qty":2}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed item: status = %d", rec.Code)
	}
	lineID := env.Data.LineItems[0].ID

	rec, env = doRequest(t, router, http.MethodPatch, "/cart/items/1",
		`{"qty":5}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d body = %s", rec.Code, rec.Body.String())
	}
	if env.Data.LineItems[0].Qty != 5 {
		t.Fatalf("qty = %d", env.Data.LineItems[0].Qty)
	}

	rec, env = doRequest(t, router, http.MethodDelete, "/cart/items/1", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: status = %d", rec.Code)
	}
	if len(env.Data.LineItems) != 0 {
		t.Fatalf("line %d survived removal", lineID)
	}
	if env.Data.FinalPrice != "0" {
		t.Fatalf("final price = %s", env.Data.FinalPrice)
	}
}
