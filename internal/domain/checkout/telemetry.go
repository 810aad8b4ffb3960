package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

const instrumentationName = "github.com/xenking/kart-storefront/internal/domain/checkout"

type metrics struct {
	attempts metric.Int64Counter
	issues   metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)

	attempts, err := meter.Int64Counter("storefront.checkout.attempts",
		metric.WithDescription("Checkout attempts by final state"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "attempts counter")
	}
	issues, err := meter.Int64Counter("storefront.reconciliation.issues",
		metric.WithDescription("Cart reconciliation issues by kind"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "issues counter")
	}

	return &metrics{attempts: attempts, issues: issues}, nil
}

func (m *metrics) recordAttempt(ctx context.Context, st State) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(st))))
}

func (m *metrics) recordIssues(ctx context.Context, issues []cart.Issue) {
	for _, is := range issues {
		m.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(is.Kind))))
	}
}
