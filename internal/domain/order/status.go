package order

import (
	"github.com/go-faster/errors"
)

// Status is a step in the order lifecycle:
//
//	Pending → Processing → Shipped → Delivered
//	Pending, Processing → Cancelled
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// ParseStatus validates s as a lifecycle status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", errors.Errorf("unknown order status %q", s)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// PaymentMethod is the payment option selected at checkout.
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "Cash on Delivery"
	PaymentCreditCard     PaymentMethod = "Credit Card"
	PaymentPayPal         PaymentMethod = "PayPal"
	PaymentBankTransfer   PaymentMethod = "Bank Transfer"
)

// DefaultPaymentMethod is used when the customer selects nothing.
const DefaultPaymentMethod = PaymentCashOnDelivery

// ParsePaymentMethod resolves s to a known payment method. An empty string
// selects DefaultPaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch pm := PaymentMethod(s); pm {
	case "":
		return DefaultPaymentMethod, true
	case PaymentCashOnDelivery, PaymentCreditCard, PaymentPayPal, PaymentBankTransfer:
		return pm, true
	default:
		return "", false
	}
}
