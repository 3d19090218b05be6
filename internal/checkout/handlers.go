package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/noah-isme/backend-market/internal/cart"
	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/order"
)

// Handler exposes the payment and completion flow over HTTP. It reuses the
// cart session to locate the order being checked out.
type Handler struct {
	Svc   *Service
	Carts *cart.Service
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*cart.Current, string, bool) {
	if h.Svc == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "internal", "NOT_CONFIGURED", "checkout handler not configured", nil)
		return nil, "", false
	}
	c, err := r.Cookie(cart.SessionCookie)
	if err != nil || c.Value == "" {
		common.JSONError(w, http.StatusNotFound, common.KindValidation, "NO_CART", "no cart for this session", nil)
		return nil, "", false
	}
	ident, _ := common.IdentityFrom(r.Context())
	if ident.IP == "" {
		ident.IP = r.RemoteAddr
	}
	cur, err := h.Carts.LoadOrCreate(r.Context(), c.Value, ident)
	if err != nil {
		common.RenderError(w, err)
		return nil, "", false
	}
	return cur, c.Value, true
}

func (h *Handler) persistAndRender(w http.ResponseWriter, r *http.Request, sessionID string, cur *cart.Current) {
	cur.MarkDirty()
	if err := h.Carts.PersistIfDirty(r.Context(), sessionID, cur); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": renderCheckout(cur.Order)})
}

// SetGateway selects the payment gateway for the order.
func (h *Handler) SetGateway(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.KindValidation, "BAD_JSON", "invalid request body", nil)
		return
	}
	cur, sessionID, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.Svc.SetGateway(r.Context(), cur.Order, payload.Handle); err != nil {
		common.RenderError(w, err)
		return
	}
	h.persistAndRender(w, r, sessionID, cur)
}

// Pay charges the order's outstanding balance through the selected gateway.
// A declined or failed charge leaves the order back in the cart state, so
// the attempt can simply be retried. The cart is persisted either way to
// keep the repriced totals.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	cur, sessionID, ok := h.load(w, r)
	if !ok {
		return
	}
	payErr := h.Svc.Pay(r.Context(), cur.Order)
	cur.MarkDirty()
	if err := h.Carts.PersistIfDirty(r.Context(), sessionID, cur); err != nil {
		common.RenderError(w, err)
		return
	}
	if payErr != nil {
		common.RenderError(w, payErr)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": renderCheckout(cur.Order)})
}

// Complete finalizes a paid order, committing discount usage and freezing
// its addresses. The session keeps pointing at the completed order; the
// next cart read hands out a fresh one.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	cur, sessionID, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Complete(r.Context(), cur.Order); err != nil {
		common.RenderError(w, err)
		return
	}
	if err := h.Carts.Forget(r.Context(), sessionID); err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": renderCheckout(cur.Order)})
}

// Cancel returns an order awaiting payment to the cart state.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	cur, sessionID, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Cancel(r.Context(), cur.Order); err != nil {
		common.RenderError(w, err)
		return
	}
	h.persistAndRender(w, r, sessionID, cur)
}

func renderCheckout(o *order.Order) map[string]any {
	return map[string]any{
		"number":        o.Number,
		"state":         o.State,
		"gateway":       o.GatewayHandle,
		"finalPrice":    o.FinalPrice,
		"paidTotal":     o.PaidTotal,
		"outstanding":   o.OutstandingBalance(),
		"datePaid":      o.DatePaid,
		"dateCompleted": o.DateCompleted,
	}
}
