// Package admin exposes the pricing configuration over HTTP: discounts,
// tax zones and rates, and shipping methods. Every write runs the
// corresponding validation before it reaches the store, so the calculator
// never sees a malformed rule.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/promo"
	"github.com/noah-isme/backend-market/internal/shipping"
	"github.com/noah-isme/backend-market/internal/tax"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("admin: record not found")

// Store is the persistence surface the admin handlers need.
type Store interface {
	Discounts(ctx context.Context) ([]promo.Discount, error)
	SaveDiscount(ctx context.Context, d promo.Discount) (int64, error)
	DeleteDiscount(ctx context.Context, id int64) error

	TaxZones(ctx context.Context) ([]tax.Zone, error)
	SaveZone(ctx context.Context, z tax.Zone) (int64, error)
	TaxRates(ctx context.Context) ([]tax.Rate, error)
	SaveRate(ctx context.Context, r tax.Rate) (int64, error)

	ShippingMethods(ctx context.Context) ([]shipping.Method, error)
	SaveMethod(ctx context.Context, m shipping.Method) (int64, error)
}

// Handler serves the catalog configuration endpoints.
type Handler struct {
	Store Store
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "internal", "NOT_CONFIGURED", "admin handler not configured", nil)
		return false
	}
	return true
}

// ListDiscounts returns every discount, disabled ones included.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	discounts, err := h.Store.Discounts(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": discounts})
}

// SaveDiscount validates and upserts a discount rule.
func (h *Handler) SaveDiscount(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var d promo.Discount
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_JSON", "invalid request body", nil)
		return
	}
	if err := promo.Validate(d); err != nil {
		common.RenderError(w, err)
		return
	}
	id, err := h.Store.SaveDiscount(r.Context(), d)
	if err != nil {
		h.renderStoreErr(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id}})
}

// DeleteDiscount removes a discount rule.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteDiscount(r.Context(), id); err != nil {
		h.renderStoreErr(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}

// ListZones returns the configured tax zones.
func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	zones, err := h.Store.TaxZones(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": zones})
}

// SaveZone validates and upserts a tax zone. Saving a new default zone
// demotes the previous default inside the store transaction.
func (h *Handler) SaveZone(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var z tax.Zone
	if err := json.NewDecoder(r.Body).Decode(&z); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_JSON", "invalid request body", nil)
		return
	}
	if err := tax.ValidateZone(z); err != nil {
		common.RenderError(w, err)
		return
	}
	id, err := h.Store.SaveZone(r.Context(), z)
	if err != nil {
		h.renderStoreErr(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id}})
}

// ListRates returns the configured tax rates.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	rates, err := h.Store.TaxRates(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rates})
}

// SaveRate normalizes, validates, and upserts a tax rate. The rate's zone
// is loaded so removable-included flags can be checked against the default
// zone rule.
func (h *Handler) SaveRate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var rate tax.Rate
	if err := json.NewDecoder(r.Body).Decode(&rate); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_JSON", "invalid request body", nil)
		return
	}
	tax.NormalizeRate(&rate)

	var zone *tax.Zone
	if rate.ZoneID != 0 {
		zones, err := h.Store.TaxZones(r.Context())
		if err != nil {
			common.RenderError(w, err)
			return
		}
		for i := range zones {
			if zones[i].ID == rate.ZoneID {
				zone = &zones[i]
				break
			}
		}
		if zone == nil {
			common.JSONError(w, http.StatusBadRequest, common.KindConfiguration, "ZONE_UNKNOWN", "tax rate references an unknown zone", nil)
			return
		}
	}
	if err := tax.ValidateRate(rate, zone); err != nil {
		common.RenderError(w, err)
		return
	}
	id, err := h.Store.SaveRate(r.Context(), rate)
	if err != nil {
		h.renderStoreErr(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id}})
}

// ListMethods returns the configured shipping methods.
func (h *Handler) ListMethods(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	methods, err := h.Store.ShippingMethods(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": methods})
}

// SaveMethod validates and upserts a shipping method.
func (h *Handler) SaveMethod(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var m shipping.Method
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_JSON", "invalid request body", nil)
		return
	}
	if m.Name == "" || m.Handle == "" {
		common.JSONError(w, http.StatusBadRequest, common.KindConfiguration, "METHOD_INVALID", "shipping method requires a name and a handle", nil)
		return
	}
	if m.BaseRate.IsNegative() || m.PerItemRate.IsNegative() || m.WeightRate.IsNegative() {
		common.JSONError(w, http.StatusBadRequest, common.KindConfiguration, "METHOD_RATE_INVALID", "shipping rates must not be negative", nil)
		return
	}
	id, err := h.Store.SaveMethod(r.Context(), m)
	if err != nil {
		h.renderStoreErr(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id}})
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_ID", "invalid record id", nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) renderStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, common.KindValidation, "RECORD_UNKNOWN", "no such record", nil)
		return
	}
	common.RenderError(w, err)
}
