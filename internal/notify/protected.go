package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vigneshrao/docwatch/internal/circuitbreaker"
)

// ProtectedNotifier wraps any Notifier with a circuit breaker. When the
// downstream channel (SES, SNS, webhook endpoint) keeps failing, the
// circuit opens and deliveries fail fast instead of piling up behind a
// dead channel.
//
// A fast-failed delivery is an ordinary transient failure from the
// sweeper's point of view: it is retried later and counts toward the
// alert's retry cap.
type ProtectedNotifier struct {
	notifier Notifier
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewProtectedNotifier wraps a notifier with circuit breaker protection.
func NewProtectedNotifier(notifier Notifier, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedNotifier {
	return &ProtectedNotifier{
		notifier: notifier,
		breaker:  breaker,
		logger:   logger,
	}
}

// Deliver attempts the delivery through the circuit breaker. If the
// circuit is open it returns ErrCircuitOpen immediately; otherwise the
// outcome is recorded on the breaker.
func (p *ProtectedNotifier) Deliver(ctx context.Context, d *Delivery) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("alert_id", d.AlertID.String()),
			zap.String("channel", d.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s channel unavailable", circuitbreaker.ErrCircuitOpen, p.breaker.Name())
	}

	err := p.notifier.Deliver(ctx, d)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying notifier.
func (p *ProtectedNotifier) SupportsChannel(channel string) bool {
	return p.notifier.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedNotifier) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
