package order

import (
	"fmt"

	"github.com/noah-isme/backend-market/internal/common"
)

// State is the order lifecycle state. Orders move strictly forward except
// for the cancel edge back from awaiting payment.
type State string

const (
	StateCart            State = "cart"
	StateAwaitingPayment State = "awaiting_payment"
	StatePaid            State = "paid"
	StateCompleted       State = "completed"
)

var transitions = map[State][]State{
	StateCart:            {StateAwaitingPayment},
	StateAwaitingPayment: {StatePaid, StateCart},
	StatePaid:            {StateCompleted},
	StateCompleted:       {},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the target state, rejecting edges the
// lifecycle does not allow. Persistence layers must re-check the source
// state under their own concurrency guard; this validates intent only.
func (o *Order) Transition(to State) error {
	if !to.Valid() {
		return common.NewValidation("INVALID_STATE", fmt.Sprintf("unknown order state %q", to), nil)
	}
	if !CanTransition(o.State, to) {
		return common.NewStateConflict("ILLEGAL_TRANSITION",
			fmt.Sprintf("cannot move order from %s to %s", o.State, to), nil)
	}
	o.State = to
	return nil
}
