package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrTemporary    = errors.New("temporary failure")

	ErrAuthorizationEmpty      = errors.New("role is not authorized for any departments")
	ErrStructuredQueryRejected = errors.New("structured query rejected")
	ErrStructuredQueryEngine   = errors.New("structured query engine failure")
	ErrRerankerUnavailable     = errors.New("reranker unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StructuredQueryError is the failure variant of StructuredOutcome. Kind is
// ErrStructuredQueryRejected or ErrStructuredQueryEngine.
type StructuredQueryError struct {
	Kind         error
	Reason       string
	Unauthorized []string
	Err          error
}

func (e *StructuredQueryError) Error() string {
	if e == nil {
		return "structured query error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *StructuredQueryError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// PublicReason is the failure text safe to show to the caller. Engine
// diagnostics stay internal.
func (e *StructuredQueryError) PublicReason() string {
	if e == nil {
		return "structured query error"
	}
	return e.Reason
}

func (e *StructuredQueryError) Rejected() bool {
	return e != nil && errors.Is(e.Kind, ErrStructuredQueryRejected)
}

func RejectStructuredQuery(reason string) *StructuredQueryError {
	return &StructuredQueryError{Kind: ErrStructuredQueryRejected, Reason: reason}
}

func RejectUnauthorizedTables(tables []string) *StructuredQueryError {
	return &StructuredQueryError{
		Kind:         ErrStructuredQueryRejected,
		Reason:       "query references unauthorized tables: " + strings.Join(tables, ", "),
		Unauthorized: tables,
	}
}

func StructuredEngineFailure(err error) *StructuredQueryError {
	return &StructuredQueryError{Kind: ErrStructuredQueryEngine, Reason: "query execution failed", Err: err}
}
