package jobs

import (
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyExponentialBackoff(t *testing.T) {
	policy := NewRetryPolicy(5)
	attemptedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1 * time.Minute},
		{attempt: 2, want: 2 * time.Minute},
		{attempt: 3, want: 4 * time.Minute},
		{attempt: 4, want: 8 * time.Minute},
	}
	for _, tt := range tests {
		job := &rivertype.JobRow{
			Kind:        JobKindResave,
			Attempt:     tt.attempt,
			AttemptedAt: &attemptedAt,
		}
		got := policy.NextRetry(job)
		assert.Equal(t, attemptedAt.Add(tt.want), got, "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyCapsAtMaxDelay(t *testing.T) {
	policy := NewRetryPolicy(20)
	attemptedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := &rivertype.JobRow{
		Kind:        JobKindResave,
		Attempt:     15,
		AttemptedAt: &attemptedAt,
	}
	got := policy.NextRetry(job)
	assert.Equal(t, attemptedAt.Add(1*time.Hour), got)
}

func TestRetryPolicyUnknownKindUsesDefault(t *testing.T) {
	policy := NewRetryPolicy(5)
	attemptedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := &rivertype.JobRow{
		Kind:        "mystery",
		Attempt:     1,
		AttemptedAt: &attemptedAt,
	}
	got := policy.NextRetry(job)
	assert.Equal(t, attemptedAt.Add(30*time.Second), got)
}

func TestRetryPolicyFloorsAttempts(t *testing.T) {
	policy := NewRetryPolicy(0)
	require.Equal(t, 1, policy.Default.MaxAttempts)

	attemptedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &rivertype.JobRow{
		Kind:        JobKindResave,
		Attempt:     0,
		AttemptedAt: &attemptedAt,
	}
	// Attempt below one is treated as the first attempt.
	got := policy.NextRetry(job)
	assert.Equal(t, attemptedAt.Add(1*time.Minute), got)
}
