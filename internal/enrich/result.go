package enrich

import "errors"

// FailureKind classifies a failed lookup.
type FailureKind uint8

const (
	// NotAvailable means the source answered but holds no data for the key.
	NotAvailable FailureKind = iota + 1
	// SourceError means the source could not be reached or its answer could not be used.
	SourceError
)

func (k FailureKind) String() string {
	switch k {
	case NotAvailable:
		return "not_available"
	case SourceError:
		return "source_error"
	default:
		return "none"
	}
}

// Result is the outcome of resolving one key: either a Value or a Failure,
// never both.
type Result[T any] struct {
	Value   T
	Failure FailureKind
	Err     error
}

func Resolved[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Failed[T any](kind FailureKind, err error) Result[T] {
	return Result[T]{Failure: kind, Err: err}
}

func (r Result[T]) OK() bool { return r.Failure == 0 }

// failureFor maps a source error to a failure kind.
func failureFor[T any](err error) Result[T] {
	if errors.Is(err, ErrNoData) {
		return Failed[T](NotAvailable, err)
	}
	return Failed[T](SourceError, err)
}
