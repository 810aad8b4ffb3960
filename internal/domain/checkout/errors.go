package checkout

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

// ErrEmptyCart is returned when checkout is attempted on an empty cart.
var ErrEmptyCart = errors.New("cart is empty")

// FieldError describes one rejected customer field.
type FieldError struct {
	Field   string
	Message string
}

// InvalidCustomerInfoError lists every customer field that failed
// validation.
type InvalidCustomerInfoError struct {
	Fields []FieldError
}

func (e *InvalidCustomerInfoError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return "invalid customer info: " + strings.Join(names, ", ")
}

// Has reports whether field is among the failures.
func (e *InvalidCustomerInfoError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// InvalidCartError indicates a stored cart that violates the cart
// invariants, such as a non-positive quantity.
type InvalidCartError struct {
	Err error
}

func (e *InvalidCartError) Error() string {
	return "invalid cart: " + e.Err.Error()
}

func (e *InvalidCartError) Unwrap() error {
	return e.Err
}

// NeedsReviewError is returned when reconciliation changed the cart. Cart
// is the corrected cart the user must confirm before retrying.
type NeedsReviewError struct {
	Cart   cart.Cart
	Issues []cart.Issue
}

func (e *NeedsReviewError) Error() string {
	return fmt.Sprintf("cart needs review: %d issue(s)", len(e.Issues))
}

// PersistenceFailedError reports that the order could not be committed.
// The cart is left untouched. UnknownOutcome is set when the store did not
// answer in time and a follow-up lookup could not confirm the order either
// way.
type PersistenceFailedError struct {
	Err            error
	Attempts       int
	UnknownOutcome bool
}

func (e *PersistenceFailedError) Error() string {
	msg := fmt.Sprintf("persist order after %d attempt(s)", e.Attempts)
	if e.UnknownOutcome {
		msg += " (outcome unknown)"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceFailedError) Unwrap() error {
	return e.Err
}
