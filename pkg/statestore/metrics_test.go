package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMetricsCountsOperations(t *testing.T) {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ops_total"}, []string{"operation"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "errs_total"}, []string{"operation"})

	inner := NewMemoryStore()
	t.Cleanup(func() { inner.Close() })
	s := WithMetrics(inner, ops, errs)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, StateKey("tok"), flowRecord{StoreID: "store-1"}, time.Minute))

	var out flowRecord
	ok, err := s.Get(ctx, StateKey("tok"), &out)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Consume(ctx, StateKey("tok"), &out)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(ctx, StateKey("tok")))

	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("consume")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("delete")))
	assert.Equal(t, 0.0, testutil.ToFloat64(errs.WithLabelValues("set")))

	// Unserializable value fails the op and lands in the error counter.
	err = s.Set(ctx, StateKey("bad"), make(chan int), time.Minute)
	require.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(ops.WithLabelValues("set")))
	assert.Equal(t, 1.0, testutil.ToFloat64(errs.WithLabelValues("set")))
}
