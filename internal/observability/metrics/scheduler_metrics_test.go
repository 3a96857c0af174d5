package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("claim: %w", context.DeadlineExceeded), SchedulerJobReasonDeadlineExceeded},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{"unique gorm", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{"unique pg", &pgconn.PgError{Code: "23505"}, SchedulerJobReasonUniqueViolation},
		{"other", errors.New("boom"), SchedulerJobReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySchedulerJobReason(tt.err))
		})
	}
	assert.True(t, IsSchedulerErrorRetryable(context.DeadlineExceeded))
	assert.False(t, IsSchedulerErrorRetryable(errors.New("boom")))
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "modulebilling", Environment: "test"})

	m.IncJobRun("renewal")
	m.AddProcessed("renewal", "charged", 3)
	m.AddProcessed("renewal", "failed", 0)
	m.IncJobSkipped("renewal", SchedulerSkipReasonLockHeld)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobRuns.WithLabelValues("renewal")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.batchProcessed.WithLabelValues("renewal", "charged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobSkipped.WithLabelValues("renewal", SchedulerSkipReasonLockHeld)))

	var nilMetrics *SchedulerMetrics
	nilMetrics.IncJobRun("renewal")
}
