package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrFilterConfig     = errors.New("invalid filter configuration")
	ErrNotFound         = errors.New("not found")
	ErrRetrieval        = errors.New("retrieval failed")
	ErrRetrievalTimeout = errors.New("retrieval timed out")
	ErrTemporary        = errors.New("temporary failure")
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

// FilterError names the filter field that made a request unusable.
type FilterError struct {
	Field  string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Field, e.Reason)
}

func (e *FilterError) Unwrap() error {
	return ErrFilterConfig
}
