package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/warp/payment-reconciler/payments"
	"go.uber.org/zap"
)

// ErrSinkUnavailable is returned while the breaker rejects deliveries.
var ErrSinkUnavailable = errors.New("writeback sink unavailable")

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

// BreakerConfig tunes when the breaker trips and how it recovers.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // probes allowed while half-open
	Interval            time.Duration // closed-state counter reset
	Timeout             time.Duration // open -> half-open
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
	}
}

// BreakerSink stops calling a failing sink until it has had time to recover.
type BreakerSink struct {
	next    payments.WritebackSink
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewBreakerSink(next payments.WritebackSink, cfg BreakerConfig, logger *zap.Logger) *BreakerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("writeback circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerSink{next: next, breaker: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

func (b *BreakerSink) Deliver(ctx context.Context, record payments.WritebackRecord) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.Deliver(ctx, record)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return err
}

// State reports the breaker state ("closed", "open" or "half-open").
func (b *BreakerSink) State() string {
	return b.breaker.State().String()
}
