package engine

import "fmt"

// ContextError reports malformed or structurally invalid context bytes.
// A failed context load must never be papered over with a default
// context; callers are expected to reject the request that carried it.
type ContextError struct {
	Reason string
	Err    error
}

func (e *ContextError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto context: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("crypto context: %s", e.Reason)
}

func (e *ContextError) Unwrap() error { return e.Err }

// InsufficientDepthError reports an operation that needs more
// multiplicative levels than the context (or its input ciphertexts)
// provides. The operation is refused outright rather than run with
// degraded precision.
type InsufficientDepthError struct {
	Operation string
	Required  int
	Available int
}

func (e *InsufficientDepthError) Error() string {
	return fmt.Sprintf("%s: needs %d multiplicative levels, context provides %d",
		e.Operation, e.Required, e.Available)
}

// DimensionError reports a vector length, column index or batch-sample
// shape mismatch. Sample is the offending batch index, or -1 when the
// error is not tied to a single sample.
type DimensionError struct {
	Operation string
	Sample    int
	Detail    string
}

func (e *DimensionError) Error() string {
	if e.Sample >= 0 {
		return fmt.Sprintf("%s: sample %d: %s", e.Operation, e.Sample, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Detail)
}

// EmptyBatchError reports an aggregate or prediction call over zero
// input vectors.
type EmptyBatchError struct {
	Operation string
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("%s: empty batch", e.Operation)
}

// ApproximationConfigError reports invalid sigmoid-approximation
// deployment configuration.
type ApproximationConfigError struct {
	Reason string
}

func (e *ApproximationConfigError) Error() string {
	return fmt.Sprintf("sigmoid approximation config: %s", e.Reason)
}
