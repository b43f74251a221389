package statestore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// instrumentedStore counts every operation against the wrapped store, by
// operation name, and errors separately.
type instrumentedStore struct {
	next Store
	ops  *prometheus.CounterVec
	errs *prometheus.CounterVec
}

// WithMetrics wraps next so each Set/Get/Consume/Delete increments ops and,
// on failure, errs. Both vectors are labeled by operation.
func WithMetrics(next Store, ops, errs *prometheus.CounterVec) Store {
	return &instrumentedStore{next: next, ops: ops, errs: errs}
}

func (s *instrumentedStore) observe(op string, err error) {
	s.ops.WithLabelValues(op).Inc()
	if err != nil {
		s.errs.WithLabelValues(op).Inc()
	}
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	err := s.next.Set(ctx, key, value, ttl)
	s.observe("set", err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key string, out any) (bool, error) {
	ok, err := s.next.Get(ctx, key, out)
	s.observe("get", err)
	return ok, err
}

func (s *instrumentedStore) Consume(ctx context.Context, key string, out any) (bool, error) {
	ok, err := s.next.Consume(ctx, key, out)
	s.observe("consume", err)
	return ok, err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	err := s.next.Delete(ctx, key)
	s.observe("delete", err)
	return err
}
