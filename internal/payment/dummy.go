package payment

import (
	"context"
	"fmt"
	"strings"
)

// Dummy is an offline provider for development and tests. It accepts every
// charge unless the order number carries a "decline" marker.
type Dummy struct{}

func (Dummy) Handle() string { return "dummy" }

func (Dummy) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	if strings.Contains(req.OrderNumber, "decline") {
		return ChargeResult{Paid: false, Message: "card declined"}, nil
	}
	return ChargeResult{
		Reference: fmt.Sprintf("dummy-%s", req.Reference),
		Paid:      true,
	}, nil
}
