package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrTooManyDatabases        = errors.New("too many databases")
	ErrUnsupportedType         = errors.New("unsupported data type")
	ErrRowLimitExceeded        = errors.New("row limit exceeded")
	ErrUnsupportedSampleMethod = errors.New("unsupported sample method")
	ErrUnknownAdapter          = errors.New("unknown adapter")
	ErrConnection              = errors.New("connection error")
	ErrSkipped                 = errors.New("skipped after upstream failure")
)

// TooManyDatabasesError is returned before any relation listing when the source
// exposes more databases than the configured limit.
type TooManyDatabasesError struct {
	Count int
	Limit int
}

func (e *TooManyDatabasesError) Error() string {
	return fmt.Sprintf("source has %d databases, limit is %d", e.Count, e.Limit)
}

func (e *TooManyDatabasesError) Is(target error) bool { return target == ErrTooManyDatabases }

// UnsupportedTypeError names the relation and the type that could not be mapped.
// Relation is empty when the error comes from a mapping table lookup outside a relation.
type UnsupportedTypeError struct {
	Relation string
	Column   string
	RawType  string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Relation == "" {
		return fmt.Sprintf("unsupported data type %q", e.RawType)
	}
	if e.Column == "" {
		return fmt.Sprintf("relation %s: unsupported data type %q", e.Relation, e.RawType)
	}
	return fmt.Sprintf("relation %s column %s: unsupported data type %q", e.Relation, e.Column, e.RawType)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// RowLimitExceededError is fatal for the owning relation only.
type RowLimitExceededError struct {
	Relation string
	Limit    int
}

func (e *RowLimitExceededError) Error() string {
	if e.Relation == "" {
		return fmt.Sprintf("query returned more than %d rows", e.Limit)
	}
	return fmt.Sprintf("relation %s: sample returned more than %d rows", e.Relation, e.Limit)
}

func (e *RowLimitExceededError) Is(target error) bool { return target == ErrRowLimitExceeded }

// UnsupportedSampleMethodError is raised once at compile start.
type UnsupportedSampleMethodError struct {
	Method    string
	Adapter   string
	Supported []string
}

func (e *UnsupportedSampleMethodError) Error() string {
	return fmt.Sprintf("sample method %q is not supported by the %s adapter (supported: %v)", e.Method, e.Adapter, e.Supported)
}

func (e *UnsupportedSampleMethodError) Is(target error) bool {
	return target == ErrUnsupportedSampleMethod
}

// UnknownAdapterError is returned when an adapter identifier is not in the registry.
// Role is "source" or "target".
type UnknownAdapterError struct {
	Role string
	Name string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("%s adapter %q is not registered", e.Role, e.Name)
}

func (e *UnknownAdapterError) Is(target error) bool { return target == ErrUnknownAdapter }

// ConnectionError wraps transport failures talking to a source or target.
type ConnectionError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Adapter, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
