package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-market/internal/catalog"
	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/order"
)

var validate = validator.New()

// SessionCookie is the cookie carrying the visitor's session token.
const SessionCookie = "market_session"

// Handler wires the cart manager and the calculator to HTTP. Every mutation
// follows the same shape: load, mutate, recompute, persist if dirty.
type Handler struct {
	Svc     *Service
	Calc    *order.Calculator
	Catalog catalog.Source
}

func (h *Handler) configured(w http.ResponseWriter) bool {
	if h.Svc == nil || h.Calc == nil {
		common.JSONError(w, http.StatusInternalServerError, "internal", "NOT_CONFIGURED", "cart handler not configured", nil)
		return false
	}
	return true
}

// session returns the visitor's session token, minting one when absent.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

func identity(r *http.Request) common.Identity {
	ident, _ := common.IdentityFrom(r.Context())
	if ident.IP == "" {
		ident.IP = r.RemoteAddr
	}
	return ident
}

// Get returns the current cart, fully priced. A read with an unchanged
// identity context writes nothing; a new cart or a refreshed volatile field
// (client IP, customer binding) is persisted exactly once.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	sessionID := h.session(w, r)
	cur, err := h.Svc.LoadOrCreate(r.Context(), sessionID, identity(r))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if err := h.Calc.Recompute(r.Context(), cur.Order); err != nil && !common.IsKind(err, common.KindValidation) {
		common.RenderError(w, err)
		return
	}
	if err := h.Svc.PersistIfDirty(r.Context(), sessionID, cur); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": renderOrder(cur.Order)})
}

// AddItem adds a purchasable to the cart, merging onto an existing line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PurchasableID int64 `json:"purchasableId" validate:"required,gt=0"`
		Qty           int   `json:"qty" validate:"required,gt=0"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		for i := range o.LineItems {
			if o.LineItems[i].PurchasableID == payload.PurchasableID {
				o.LineItems[i].Qty += payload.Qty
				return nil
			}
		}
		p, err := h.Catalog.PurchasableByID(r.Context(), payload.PurchasableID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return common.NewValidation("PURCHASABLE_UNKNOWN", "no such purchasable", err)
			}
			return err
		}
		o.LineItems = append(o.LineItems, order.LineItem{
			ID:            nextLineID(o),
			PurchasableID: p.ID,
			CategoryID:    p.CategoryID,
			Description:   p.Description,
			SKU:           p.SKU,
			SalePrice:     p.Price,
			Qty:           payload.Qty,
			Weight:        p.Weight,
			Length:        p.Length,
			Width:         p.Width,
			Height:        p.Height,
		})
		return nil
	})
}

// UpdateItem changes a line's quantity; zero or less removes the line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_LINE_ID", "invalid line item id", nil)
		return
	}
	var payload struct {
		Qty int `json:"qty"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		for i := range o.LineItems {
			if o.LineItems[i].ID != lineID {
				continue
			}
			if payload.Qty <= 0 {
				o.LineItems = append(o.LineItems[:i], o.LineItems[i+1:]...)
			} else {
				o.LineItems[i].Qty = payload.Qty
			}
			return nil
		}
		return common.NewValidation("LINE_UNKNOWN", "no such line item", nil)
	})
}

// RemoveItem deletes a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_LINE_ID", "invalid line item id", nil)
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		for i := range o.LineItems {
			if o.LineItems[i].ID == lineID {
				o.LineItems = append(o.LineItems[:i], o.LineItems[i+1:]...)
				return nil
			}
		}
		return common.NewValidation("LINE_UNKNOWN", "no such line item", nil)
	})
}

// SetEmail records the checkout email on the cart.
func (h *Handler) SetEmail(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email" validate:"required,email"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		o.Email = payload.Email
		return nil
	})
}

// ApplyCoupon sets the coupon code. A rejected code is not stored.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code" validate:"required"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		o.CouponCode = payload.Code
		return nil
	})
}

// RemoveCoupon clears the coupon code.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(o *order.Order) error {
		o.CouponCode = ""
		return nil
	})
}

type addressPayload struct {
	FullName           string `json:"fullName"`
	AddressLine1       string `json:"addressLine1"`
	AddressLine2       string `json:"addressLine2"`
	Locality           string `json:"locality"`
	AdministrativeArea string `json:"administrativeArea"`
	PostalCode         string `json:"postalCode"`
	CountryCode        string `json:"countryCode" validate:"required,len=2"`
}

func (p *addressPayload) toAddress() *order.Address {
	if p == nil {
		return nil
	}
	return &order.Address{
		FullName:           p.FullName,
		AddressLine1:       p.AddressLine1,
		AddressLine2:       p.AddressLine2,
		Locality:           p.Locality,
		AdministrativeArea: p.AdministrativeArea,
		PostalCode:         p.PostalCode,
		CountryCode:        p.CountryCode,
	}
}

// SetAddresses replaces the cart's shipping and billing addresses. A missing
// billing address falls back to the shipping address.
func (h *Handler) SetAddresses(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Shipping *addressPayload `json:"shipping" validate:"required"`
		Billing  *addressPayload `json:"billing"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		o.ShippingAddress = payload.Shipping.toAddress()
		if payload.Billing != nil {
			o.BillingAddress = payload.Billing.toAddress()
		} else {
			o.BillingAddress = payload.Shipping.toAddress()
		}
		return nil
	})
}

// SetShippingMethod selects the shipping method for the cart. The
// calculator rejects methods unavailable for the shipping address.
func (h *Handler) SetShippingMethod(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handle string `json:"handle" validate:"required"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, func(o *order.Order) error {
		o.ShippingMethodHandle = payload.Handle
		return nil
	})
}

// Forget detaches the session from its cart.
func (h *Handler) Forget(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	if err := h.Svc.Forget(r.Context(), h.session(w, r)); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"forgotten": true}})
}

// Restore points the session back at the customer's previous cart.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	sessionID := h.session(w, r)
	cur, err := h.Svc.RestorePreviousCart(r.Context(), sessionID, identity(r))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.KindValidation, "NO_PREVIOUS_CART", "no previous cart to restore", nil)
			return
		}
		common.RenderError(w, err)
		return
	}
	if err := h.Calc.Recompute(r.Context(), cur.Order); err != nil && !common.IsKind(err, common.KindValidation) {
		common.RenderError(w, err)
		return
	}
	if err := h.Svc.PersistIfDirty(r.Context(), sessionID, cur); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": renderOrder(cur.Order)})
}

// mutate runs the standard mutation pipeline: load, apply, recompute,
// persist. A validation failure from the mutation or the recomputation
// aborts without persisting, so a bad coupon or shipping method never
// sticks to the stored cart.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, apply func(*order.Order) error) {
	if !h.configured(w) {
		return
	}
	sessionID := h.session(w, r)
	cur, err := h.Svc.LoadOrCreate(r.Context(), sessionID, identity(r))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if err := apply(cur.Order); err != nil {
		common.RenderError(w, err)
		return
	}
	if err := h.Calc.Recompute(r.Context(), cur.Order); err != nil {
		common.RenderError(w, err)
		return
	}
	cur.MarkDirty()
	if err := h.Svc.PersistIfDirty(r.Context(), sessionID, cur); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": renderOrder(cur.Order)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_JSON", "invalid request body", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, common.KindValidation, "INVALID_PAYLOAD", err.Error(), nil)
		return false
	}
	return true
}

func nextLineID(o *order.Order) int64 {
	var max int64
	for _, li := range o.LineItems {
		if li.ID > max {
			max = li.ID
		}
	}
	return max + 1
}

func renderOrder(o *order.Order) map[string]any {
	lines := make([]map[string]any, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		lines = append(lines, map[string]any{
			"id":            li.ID,
			"purchasableId": li.PurchasableID,
			"description":   li.Description,
			"sku":           li.SKU,
			"qty":           li.Qty,
			"salePrice":     li.SalePrice,
			"subtotal":      li.Subtotal,
			"total":         li.Total,
		})
	}
	adjustments := make([]map[string]any, 0, len(o.Adjustments))
	for _, a := range o.Adjustments {
		adjustments = append(adjustments, map[string]any{
			"type":        a.Type,
			"description": a.Description,
			"amount":      a.Amount,
			"included":    a.Included,
			"lineItemId":  a.LineItemID,
		})
	}
	return map[string]any{
		"number":           o.Number,
		"state":            o.State,
		"currency":         o.Currency,
		"email":            o.Email,
		"couponCode":       o.CouponCode,
		"shippingMethod":   o.ShippingMethodHandle,
		"gateway":          o.GatewayHandle,
		"lineItems":        lines,
		"adjustments":      adjustments,
		"totalQty":         o.TotalQty(),
		"itemTotal":        o.ItemTotal,
		"totalDiscount":    o.TotalDiscount,
		"totalTax":         o.TotalTax,
		"totalTaxIncluded": o.TotalTaxIncluded,
		"totalShipping":    o.TotalShipping,
		"finalPrice":       o.FinalPrice,
		"paidTotal":        o.PaidTotal,
	}
}
