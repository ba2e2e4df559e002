package clusteraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

func TestCalculateDesired_Exact(t *testing.T) {
	assert.Equal(t, 7, calculateDesired(3, AdjustmentExact, 7))
}

func TestCalculateDesired_ChangeInCapacity(t *testing.T) {
	assert.Equal(t, 5, calculateDesired(3, AdjustmentChangeInCapacity, 2))
	assert.Equal(t, 1, calculateDesired(3, AdjustmentChangeInCapacity, -2))
}

func TestCalculateDesired_ChangeInPercentageRoundsUpAndFloorsAtMinStep(t *testing.T) {
	// 10% of 20 is 2, no flooring needed.
	assert.Equal(t, 22, calculateDesired(20, AdjustmentChangeInPercentage, 10))
	// 1% of 20 rounds up to 1 (ceil(0.2) == 1), matching defaultMinStep anyway.
	assert.Equal(t, 21, calculateDesired(20, AdjustmentChangeInPercentage, 1))
	// A tiny negative percentage against a small cluster still moves by at
	// least defaultMinStep rather than rounding down to zero.
	assert.Equal(t, 1, calculateDesired(2, AdjustmentChangeInPercentage, -1))
}

func TestCalculateDesired_UnknownTypeIsNoOp(t *testing.T) {
	assert.Equal(t, 5, calculateDesired(5, "BOGUS", 99))
}

func TestTruncateDesired_ClampsToBounds(t *testing.T) {
	assert.Equal(t, 3, truncateDesired(1, 3, 10))
	assert.Equal(t, 10, truncateDesired(20, 3, 10))
	assert.Equal(t, 5, truncateDesired(5, 3, 10))
}

func TestTruncateDesired_UnboundedMaxSizeSkipsUpperClamp(t *testing.T) {
	assert.Equal(t, 1000, truncateDesired(1000, 0, models.UnboundedMaxSize))
}

func TestTruncateDesired_NeverNegative(t *testing.T) {
	assert.Equal(t, 0, truncateDesired(-5, -10, models.UnboundedMaxSize))
}

func TestCheckSizeParams_StrictRejectsOutOfBounds(t *testing.T) {
	_, msg := checkSizeParams(5, 2, 3, 10, true)
	assert.Contains(t, msg, "less than the cluster's min_size")

	_, msg = checkSizeParams(5, 12, 3, 10, true)
	assert.Contains(t, msg, "greater than the cluster's max_size")
}

func TestCheckSizeParams_BestEffortClampsWhenCurrentIsInBounds(t *testing.T) {
	desired, msg := checkSizeParams(5, 2, 3, 10, false)
	assert.Empty(t, msg)
	assert.Equal(t, 3, desired)

	desired, msg = checkSizeParams(5, 12, 3, 10, false)
	assert.Empty(t, msg)
	assert.Equal(t, 10, desired)
}

func TestCheckSizeParams_BestEffortRejectsWhenCurrentAlreadyOutOfBounds(t *testing.T) {
	// current (1) already violates min_size (3): nothing sensible to clamp
	// towards, so even a non-strict caller gets an error.
	_, msg := checkSizeParams(1, 0, 3, 10, false)
	assert.Contains(t, msg, "less than the cluster's min_size")

	_, msg = checkSizeParams(12, 15, 3, 10, false)
	assert.Contains(t, msg, "greater than the cluster's max_size")
}

func TestCheckSizeParams_UnboundedMaxSizeNeverRejects(t *testing.T) {
	_, msg := checkSizeParams(5, 1000000, 0, models.UnboundedMaxSize, true)
	assert.Empty(t, msg)
}

func TestCheckSizeParams_WithinBoundsIsAlwaysOK(t *testing.T) {
	desired, msg := checkSizeParams(5, 7, 3, 10, true)
	assert.Empty(t, msg)
	assert.Equal(t, 7, desired)
}

// do_resize's boundary case (spec.md): strict=true and min_size > desired
// blames "the specified min_size", not "the cluster's min_size" — the
// wording scale_in/scale_out use via checkSizeParams.
func TestCheckResizeParams_StrictRejectsOutOfBoundsWithSpecifiedWording(t *testing.T) {
	_, msg := checkResizeParams(5, 2, 3, 10, true)
	assert.Contains(t, msg, "less than the specified min_size")
	assert.NotContains(t, msg, "cluster's")

	_, msg = checkResizeParams(5, 12, 3, 10, true)
	assert.Contains(t, msg, "greater than the specified max_size")
	assert.NotContains(t, msg, "cluster's")
}

func TestCheckResizeParams_BestEffortClampsWhenCurrentIsInBounds(t *testing.T) {
	desired, msg := checkResizeParams(5, 2, 3, 10, false)
	assert.Empty(t, msg)
	assert.Equal(t, 3, desired)
}
