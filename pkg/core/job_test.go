package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ──────────────────────────────────────────────────────────────────────────────
// Status helpers
// ──────────────────────────────────────────────────────────────────────────────

func TestJobStatus_Incomplete(t *testing.T) {
	assert.True(t, StatusPending.Incomplete())
	assert.True(t, StatusInProgress.Incomplete())
	assert.False(t, StatusSuccess.Incomplete())
	assert.False(t, StatusFailure.Incomplete())
}

func TestJobStatus_Completed(t *testing.T) {
	assert.False(t, StatusPending.Completed())
	assert.False(t, StatusInProgress.Completed())
	assert.True(t, StatusSuccess.Completed())
	assert.True(t, StatusFailure.Completed())
}

// ──────────────────────────────────────────────────────────────────────────────
// Arg identifiers
// ──────────────────────────────────────────────────────────────────────────────

func TestArgsToIdentifier(t *testing.T) {
	assert.Equal(t, "", ArgsToIdentifier(nil))
	assert.Equal(t, "a", ArgsToIdentifier([]string{"a"}))
	assert.Equal(t, "a,b,c", ArgsToIdentifier([]string{"a", "b", "c"}))
}

func TestArgsToIdentifier_OrderSensitive(t *testing.T) {
	assert.NotEqual(t,
		ArgsToIdentifier([]string{"a", "b"}),
		ArgsToIdentifier([]string{"b", "a"}))
}

func TestIdentifierToArgs_RoundTrip(t *testing.T) {
	args := []string{"img-17", "150", "150"}
	assert.Equal(t, args, IdentifierToArgs(ArgsToIdentifier(args)))
}

func TestIdentifierToArgs_Empty(t *testing.T) {
	assert.Nil(t, IdentifierToArgs(""))
}

func TestJob_String(t *testing.T) {
	j := &Job{Name: "extract_features"}
	assert.Equal(t, "extract_features", j.String())

	j.ArgIdentifier = "img-17"
	assert.Equal(t, "extract_features / img-17", j.String())
}

// ──────────────────────────────────────────────────────────────────────────────
// Group status classification
// ──────────────────────────────────────────────────────────────────────────────

func TestGroupStatusCounts_Classify(t *testing.T) {
	tests := []struct {
		name   string
		counts GroupStatusCounts
		want   GroupStatus
	}{
		{"all pending", GroupStatusCounts{PendingCount: 3, Total: 3}, GroupPending},
		{"no units", GroupStatusCounts{}, GroupDone},
		{"one started", GroupStatusCounts{PendingCount: 2, InProgressCount: 1, Total: 3}, GroupInProgress},
		{"mixed terminal and pending", GroupStatusCounts{PendingCount: 1, SuccessCount: 2, Total: 3}, GroupInProgress},
		{"only in progress", GroupStatusCounts{InProgressCount: 3, Total: 3}, GroupInProgress},
		{"all success", GroupStatusCounts{SuccessCount: 3, Total: 3}, GroupDone},
		{"all failure", GroupStatusCounts{FailureCount: 3, Total: 3}, GroupDone},
		{"mixed terminal", GroupStatusCounts{SuccessCount: 2, FailureCount: 1, Total: 3}, GroupDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.counts.Classify())
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Expected failures
// ──────────────────────────────────────────────────────────────────────────────

func TestFail_WrapsAsJobError(t *testing.T) {
	cause := errors.New("image has no points")
	err := Fail(cause)

	var jobErr *JobError
	assert.True(t, errors.As(err, &jobErr))
	assert.Equal(t, "image has no points", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestFailf(t *testing.T) {
	err := Failf("image %d has no points", 17)

	var jobErr *JobError
	assert.True(t, errors.As(err, &jobErr))
	assert.Equal(t, "image 17 has no points", err.Error())
}

func TestFailf_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Failf("while resizing: %w", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, fmt.Sprintf("while resizing: %v", cause), err.Error())
}
