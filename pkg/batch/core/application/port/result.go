package port

import "fmt"

// Outcome tags a Result.
type Outcome int

const (
	// OutcomeOk keeps the transformed item in the chunk.
	OutcomeOk Outcome = iota
	// OutcomeDrop removes the item without counting a failure (a filter).
	OutcomeDrop
	// OutcomeSkip reports a classified item error for the skip policy to judge.
	OutcomeSkip
	// OutcomeFatal aborts the step.
	OutcomeFatal
)

// String returns the name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOk:
		return "OK"
	case OutcomeDrop:
		return "DROP"
	case OutcomeSkip:
		return "SKIP"
	case OutcomeFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the tagged value returned by an ItemProcessor.
type Result[T any] struct {
	Outcome Outcome
	Item    T
	Err     error
}

// Ok keeps item.
func Ok[T any](item T) Result[T] {
	return Result[T]{Outcome: OutcomeOk, Item: item}
}

// Drop filters the item out.
func Drop[T any]() Result[T] {
	return Result[T]{Outcome: OutcomeDrop}
}

// Skip reports a classified, possibly skippable item error.
func Skip[T any](reason error) Result[T] {
	return Result[T]{Outcome: OutcomeSkip, Err: reason}
}

// Fatal reports an error that aborts the step.
func Fatal[T any](err error) Result[T] {
	return Result[T]{Outcome: OutcomeFatal, Err: err}
}
