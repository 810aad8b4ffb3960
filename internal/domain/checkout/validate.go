package checkout

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xenking/kart-storefront/internal/domain/order"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minNameLength = 2

// CheckoutRequest carries the customer-supplied checkout form.
type CheckoutRequest struct {
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress string
	PaymentMethod   string
	Notes           string
	// IdempotencyKey deduplicates repeated submissions of the same checkout.
	IdempotencyKey string
}

// validateCustomer normalises the request and collects every failing field.
func validateCustomer(req CheckoutRequest) (order.Customer, order.PaymentMethod, error) {
	customer := order.Customer{
		Name:            strings.TrimSpace(req.CustomerName),
		Email:           strings.TrimSpace(req.CustomerEmail),
		Phone:           strings.TrimSpace(req.CustomerPhone),
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
	}

	var fields []FieldError
	if utf8.RuneCountInString(customer.Name) < minNameLength {
		fields = append(fields, FieldError{
			Field:   "customerName",
			Message: "name must be at least 2 characters",
		})
	}
	if !emailPattern.MatchString(customer.Email) {
		fields = append(fields, FieldError{
			Field:   "customerEmail",
			Message: "email address is not valid",
		})
	}
	pm, ok := order.ParsePaymentMethod(strings.TrimSpace(req.PaymentMethod))
	if !ok {
		fields = append(fields, FieldError{
			Field:   "paymentMethod",
			Message: "unsupported payment method",
		})
	}

	if len(fields) > 0 {
		return order.Customer{}, "", &InvalidCustomerInfoError{Fields: fields}
	}
	return customer, pm, nil
}
