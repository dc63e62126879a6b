package nats

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/pkg/logger"
	"github.com/conseiller-portal/messagerie/pkg/metrics"
)

// subscription is the handle returned by the Observe* methods.
type subscription struct {
	kind   string
	logger *logger.Logger

	closed atomic.Bool
	once   sync.Once
	stop   func() error
	err    error
}

func newSubscription(kind string, log *logger.Logger) *subscription {
	metrics.SubscriptionsActive.WithLabelValues(kind).Inc()
	return &subscription{kind: kind, logger: log}
}

// deliver runs fn unless the subscription is closed. A panicking subscriber is
// logged and the subscription keeps running.
func (s *subscription) deliver(fn func()) {
	if s.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber callback panicked",
				zap.String("kind", s.kind),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// Close stops the underlying watch or consumer. An update already being
// delivered may still complete.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		if s.stop != nil {
			s.err = s.stop()
		}
		metrics.SubscriptionsActive.WithLabelValues(s.kind).Dec()
	})
	return s.err
}
