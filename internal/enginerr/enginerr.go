// Package enginerr defines the error taxonomy shared across the
// change-detection and dispatch engine. Kinds, not types: every failure
// mode in the engine maps to one of these so callers can branch on Kind
// without type assertions.
package enginerr

import "fmt"

type Kind string

const (
	KindUnreadableSource   Kind = "unreadable_source"
	KindDecodeError        Kind = "decode_error"
	KindVLMTransient       Kind = "vlm_transient"
	KindVLMPermanent       Kind = "vlm_permanent"
	KindEvaluatorParseFail Kind = "evaluator_parse_failure"
	KindRateLimited        Kind = "rate_limited"
	KindCancelled          Kind = "cancelled"
)

// Error wraps an underlying failure with a Kind and the operation that
// produced it, mirroring cameras.SfuStepError's {Step, ErrorCode, Err}
// shape.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s:%s]", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is an *Error of the given kind. It checks err
// itself only; an *Error wrapped inside another error is not found.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// Transient reports whether the kind is expected to be recovered locally
// per the propagation policy in spec.md §7.
func (k Kind) Transient() bool {
	switch k {
	case KindDecodeError, KindVLMTransient, KindRateLimited, KindEvaluatorParseFail:
		return true
	default:
		return false
	}
}
