package clusteraction

import (
	"fmt"
	"math"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// Adjustment type names accepted in action.inputs['adjustment_type'].
const (
	AdjustmentExact             = "EXACT_CAPACITY"
	AdjustmentChangeInCapacity  = "CHANGE_IN_CAPACITY"
	AdjustmentChangeInPercentage = "CHANGE_IN_PERCENTAGE"
)

// defaultMinStep is the minimum magnitude applied to a percentage
// adjustment, so a 1% request against a small cluster still moves it.
const defaultMinStep = 1

// calculateDesired turns a resize request into an absolute target capacity.
func calculateDesired(current int, adjustmentType string, number int) int {
	switch adjustmentType {
	case AdjustmentExact:
		return number
	case AdjustmentChangeInCapacity:
		return current + number
	case AdjustmentChangeInPercentage:
		delta := int(math.Ceil(math.Abs(float64(current) * float64(number) / 100.0)))
		if delta < defaultMinStep {
			delta = defaultMinStep
		}
		if number < 0 {
			delta = -delta
		}
		return current + delta
	default:
		return current
	}
}

// truncateDesired hard-clamps desired into [minSize, maxSize] (maxSize ==
// models.UnboundedMaxSize skips the upper bound) and never lets it go
// negative.
func truncateDesired(desired, minSize, maxSize int) int {
	if desired < minSize {
		desired = minSize
	}
	if maxSize != models.UnboundedMaxSize && desired > maxSize {
		desired = maxSize
	}
	if desired < 0 {
		desired = 0
	}
	return desired
}

// checkSizeParams validates (and, when strict is false, best-effort
// clamps) desired against [minSize, maxSize]. It returns the possibly
// adjusted desired and an error message, non-empty only when the request
// must be rejected outright: strict violations always reject; a
// best-effort violation rejects only when current itself already sits
// outside the bound being checked (nothing sensible to clamp towards).
// Used by do_scale_in/do_scale_out, whose rejection message blames "the
// cluster's" bound since those ops never took an explicit min/max input.
func checkSizeParams(current, desired, minSize, maxSize int, strict bool) (int, string) {
	return checkSizeParamsBound(current, desired, minSize, maxSize, strict, "the cluster's")
}

// checkResizeParams is do_resize's variant of checkSizeParams: the caller
// supplied min_size/max_size explicitly (or inherited the cluster's), so a
// rejection blames "the specified" bound rather than "the cluster's".
func checkResizeParams(current, desired, minSize, maxSize int, strict bool) (int, string) {
	return checkSizeParamsBound(current, desired, minSize, maxSize, strict, "the specified")
}

func checkSizeParamsBound(current, desired, minSize, maxSize int, strict bool, bound string) (int, string) {
	if desired < minSize {
		if strict || current < minSize {
			return desired, fmt.Sprintf(
				"The target capacity (%d) is less than %s min_size (%d).",
				desired, bound, minSize)
		}
		desired = minSize
	}
	if maxSize != models.UnboundedMaxSize && desired > maxSize {
		if strict || current > maxSize {
			return desired, fmt.Sprintf(
				"The target capacity (%d) is greater than %s max_size (%d).",
				desired, bound, maxSize)
		}
		desired = maxSize
	}
	return desired, ""
}
