package order

import (
	"context"
	"fmt"
)

// TransitionError reports a status change that the lifecycle does not allow.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Service manages orders after they have been committed.
type Service struct {
	orders Repository
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// Get returns the order with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// Advance moves an order to next if the lifecycle permits it. The store
// performs a compare-and-set on the current status, so a concurrent change
// surfaces as a TransitionError rather than a lost update.
func (s *Service) Advance(ctx context.Context, id string, next Status) (*Order, error) {
	current, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, &TransitionError{From: current.Status, To: next}
	}

	updated, err := s.orders.UpdateStatus(ctx, id, current.Status, next)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return updated, nil
}

// Cancel is shorthand for Advance(ctx, id, StatusCancelled).
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	return s.Advance(ctx, id, StatusCancelled)
}
