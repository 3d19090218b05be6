// Package checkout drives an order through payment and completion. Every
// state move is a compare-and-swap against the stored state inside one
// storage transaction, so two racing requests cannot both advance the same
// order.
package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-market/internal/common"
	"github.com/noah-isme/backend-market/internal/events"
	"github.com/noah-isme/backend-market/internal/obs"
	"github.com/noah-isme/backend-market/internal/order"
	"github.com/noah-isme/backend-market/internal/payment"
)

// ErrStateChanged is returned by stores when the order's stored state no
// longer matches the expected source state.
var ErrStateChanged = errors.New("checkout: order state changed concurrently")

// DiscountUse records one discount consumption to commit at completion.
type DiscountUse struct {
	DiscountID int64
	CustomerID string
	Email      string
}

// Store is the transactional persistence port for checkout. Transition and
// Complete must verify the stored state matches from before writing, inside
// a single transaction, and return ErrStateChanged otherwise.
type Store interface {
	Save(ctx context.Context, o *order.Order) error
	Transition(ctx context.Context, o *order.Order, from, to order.State) error
	// Complete persists the terminal order and increments discount usage
	// counters atomically with the state change.
	Complete(ctx context.Context, o *order.Order, from order.State, uses []DiscountUse) error
}

// Service wires the calculator, the payment providers, and the order store
// into the checkout flow.
type Service struct {
	Orders   Store
	Calc     *order.Calculator
	Gateways payment.Registry
	Events   *events.Bus
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) tracer() trace.Tracer {
	return otel.Tracer("checkout")
}

func (s *Service) configured() error {
	if s == nil || s.Orders == nil || s.Calc == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}

// SetGateway selects the payment gateway for the order.
func (s *Service) SetGateway(ctx context.Context, o *order.Order, handle string) error {
	if err := s.configured(); err != nil {
		return err
	}
	if s.Gateways.Lookup(handle) == nil {
		return common.NewValidation("GATEWAY_UNKNOWN", "unknown payment gateway", nil)
	}
	o.GatewayHandle = handle
	return s.Orders.Save(ctx, o)
}

// Pay reprices the order, moves it to awaiting payment under a CAS guard,
// charges the gateway, and on success marks it paid. A declined or failed
// charge returns the order to the cart state so payment can be retried.
func (s *Service) Pay(ctx context.Context, o *order.Order) error {
	if err := s.configured(); err != nil {
		return err
	}
	ctx, span := s.tracer().Start(ctx, "checkout.pay",
		trace.WithAttributes(attribute.String("order.number", o.Number)))
	defer span.End()

	if err := s.validateReady(ctx, o); err != nil {
		return err
	}
	gateway := s.Gateways.Lookup(o.GatewayHandle)
	if gateway == nil {
		return common.NewValidation("GATEWAY_REQUIRED", "no payment gateway selected", nil)
	}

	if err := s.transition(ctx, o, order.StateCart, order.StateAwaitingPayment); err != nil {
		return err
	}

	result, err := gateway.Charge(ctx, payment.ChargeRequest{
		OrderNumber: o.Number,
		Amount:      o.OutstandingBalance(),
		Currency:    o.Currency,
		Reference:   o.ID.String(),
	})
	if err != nil {
		s.countCharge(o.GatewayHandle, "error")
		s.emit(ctx, events.TopicPaymentFailed, o.ID, map[string]any{"number": o.Number, "error": err.Error()})
		return s.revertToCart(ctx, o, common.NewExternal("GATEWAY_ERROR", "payment gateway call failed", err))
	}
	if !result.Paid {
		s.countCharge(o.GatewayHandle, "declined")
		s.emit(ctx, events.TopicPaymentFailed, o.ID, map[string]any{"number": o.Number, "reason": result.Message})
		return s.revertToCart(ctx, o, common.NewValidation("PAYMENT_DECLINED", result.Message, nil))
	}
	s.countCharge(o.GatewayHandle, "paid")

	o.PaidTotal = o.FinalPrice
	paidAt := s.now()
	o.DatePaid = &paidAt
	if err := s.transition(ctx, o, order.StateAwaitingPayment, order.StatePaid); err != nil {
		return err
	}
	s.emit(ctx, events.TopicOrderPaid, o.ID, map[string]any{"number": o.Number, "total": o.FinalPrice.String()})
	return nil
}

// Complete finalizes a paid order: addresses are frozen, timestamps set, and
// discount usage counters advance in the same transaction as the terminal
// state change. Usage is only ever consumed here, so abandoned carts never
// burn coupon quota.
func (s *Service) Complete(ctx context.Context, o *order.Order) error {
	if err := s.configured(); err != nil {
		return err
	}
	ctx, span := s.tracer().Start(ctx, "checkout.complete",
		trace.WithAttributes(attribute.String("order.number", o.Number)))
	defer span.End()

	if !order.CanTransition(o.State, order.StateCompleted) {
		return common.NewStateConflict("ILLEGAL_TRANSITION", "order is not ready for completion", nil)
	}

	from := o.State
	o.FreezeAddresses()
	now := s.now()
	o.DateOrdered = &now
	o.DateCompleted = &now
	o.State = order.StateCompleted

	uses := make([]DiscountUse, 0)
	seen := make(map[int64]struct{})
	for _, a := range o.Adjustments {
		if a.Type != order.AdjustmentDiscount || a.SourceID == 0 {
			continue
		}
		if _, dup := seen[a.SourceID]; dup {
			continue
		}
		seen[a.SourceID] = struct{}{}
		uses = append(uses, DiscountUse{DiscountID: a.SourceID, CustomerID: o.CustomerID, Email: o.Email})
	}

	if err := s.Orders.Complete(ctx, o, from, uses); err != nil {
		o.State = from
		o.DateOrdered = nil
		o.DateCompleted = nil
		return s.mapStoreErr(err)
	}
	if obs.OrderTransitionTotal != nil {
		obs.OrderTransitionTotal.WithLabelValues(string(order.StateCompleted)).Inc()
	}
	s.emit(ctx, events.TopicOrderCompleted, o.ID, map[string]any{
		"number": o.Number,
		"total":  o.FinalPrice.String(),
	})
	return nil
}

// Cancel returns an order awaiting payment to the cart state.
func (s *Service) Cancel(ctx context.Context, o *order.Order) error {
	if err := s.configured(); err != nil {
		return err
	}
	if err := s.transition(ctx, o, order.StateAwaitingPayment, order.StateCart); err != nil {
		return err
	}
	s.emit(ctx, events.TopicOrderCanceled, o.ID, map[string]any{"number": o.Number})
	return nil
}

// revertToCart undoes the awaiting-payment hold after a charge failure so
// the order can be paid again. The charge error wins over a revert error:
// the caller needs to know why the payment failed either way.
func (s *Service) revertToCart(ctx context.Context, o *order.Order, chargeErr error) error {
	_ = s.transition(ctx, o, order.StateAwaitingPayment, order.StateCart)
	return chargeErr
}

// validateReady reprices the order and checks it can enter payment.
func (s *Service) validateReady(ctx context.Context, o *order.Order) error {
	if err := s.Calc.Recompute(ctx, o); err != nil {
		return err
	}
	if o.IsEmpty() {
		return common.NewValidation("CART_EMPTY", "cannot pay for an empty cart", nil)
	}
	if o.Email == "" {
		return common.NewValidation("EMAIL_REQUIRED", "an email address is required for checkout", nil)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, o *order.Order, from, to order.State) error {
	if o.State != from {
		return common.NewStateConflict("ILLEGAL_TRANSITION", "order is not in the expected state", nil)
	}
	o.State = to
	if err := s.Orders.Transition(ctx, o, from, to); err != nil {
		o.State = from
		return s.mapStoreErr(err)
	}
	if obs.OrderTransitionTotal != nil {
		obs.OrderTransitionTotal.WithLabelValues(string(to)).Inc()
	}
	return nil
}

func (s *Service) countCharge(gateway, result string) {
	if obs.PaymentChargeTotal != nil {
		obs.PaymentChargeTotal.WithLabelValues(gateway, result).Inc()
	}
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, ErrStateChanged) {
		return common.NewStateConflict("STATE_CHANGED", "the order was modified by another request", err)
	}
	return err
}

func (s *Service) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	_, _ = s.Events.Emit(ctx, topic, id, payload)
}
