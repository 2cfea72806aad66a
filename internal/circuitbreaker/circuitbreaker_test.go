package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/riskforge/engine/internal/domain"
)

func TestCheckStartsClosed(t *testing.T) {
	r := NewRegistry()
	s := r.Check("BTCUSDT", time.Now(), 3, 300)
	assert.Equal(t, domain.CircuitClosed, s.State)
}

func TestRecordFailureOpensAtThreshold(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	s := r.RecordFailure("BTCUSDT", now)
	assert.Equal(t, domain.CircuitOpen, s.State)
	assert.Equal(t, 3, s.FailureCount)
}

func TestCheckTransitionsOpenToHalfOpenAfterDelay(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)

	future := now.Add(301 * time.Second)
	s := r.Check("BTCUSDT", future, 3, 300)
	assert.Equal(t, domain.CircuitHalfOpen, s.State)
}

func TestCheckStaysOpenBeforeDelayElapses(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)

	soon := now.Add(10 * time.Second)
	s := r.Check("BTCUSDT", soon, 3, 300)
	assert.Equal(t, domain.CircuitOpen, s.State)
}

func TestRecordSuccessResetsToClose(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	reset := r.RecordSuccess("BTCUSDT")
	assert.Equal(t, domain.CircuitClosed, reset.State)
	assert.Equal(t, 0, reset.FailureCount)

	s := r.Check("BTCUSDT", now, 3, 300)
	assert.Equal(t, domain.CircuitClosed, s.State)
	assert.Equal(t, 0, s.FailureCount)
}

func TestSeedLoadsPersistedStateForRestartSurvival(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Seed([]domain.CircuitBreakerState{
		{Symbol: "BTCUSDT", State: domain.CircuitOpen, FailureCount: 3, FailureThreshold: 3, RetryDelaySeconds: 300, OpenedAt: now, WillRetryAt: now.Add(300 * time.Second)},
	})

	s := r.Check("BTCUSDT", now, 3, 300)
	assert.Equal(t, domain.CircuitOpen, s.State)
	assert.Equal(t, 3, s.FailureCount)
}

func TestRecordFailureInHalfOpenReopensImmediately(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	future := now.Add(301 * time.Second)
	r.Check("BTCUSDT", future, 3, 300)

	s := r.RecordFailure("BTCUSDT", future)
	assert.Equal(t, domain.CircuitOpen, s.State)
}

func TestSymbolsAreIndependent(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)
	r.RecordFailure("BTCUSDT", now)

	s := r.Check("ETHUSDT", now, 3, 300)
	assert.Equal(t, domain.CircuitClosed, s.State)
}
