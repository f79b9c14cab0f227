package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the pipeline matches exactly one of
// these via errors.Is.
var (
	ErrInputNotFound         = errors.New("input not found")
	ErrEmptyInput            = errors.New("empty input")
	ErrMalformedRow          = errors.New("malformed row")
	ErrConnectionUnavailable = errors.New("connection unavailable")
	ErrSchemaConflict        = errors.New("schema conflict")
	ErrLoadAborted           = errors.New("load aborted")
	ErrTableMissing          = errors.New("table missing")
	ErrQueryFailed           = errors.New("query failed")
	ErrWriteFailed           = errors.New("write failed")
	ErrConcurrentRunRejected = errors.New("concurrent run rejected")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrInputNotFound, "InputNotFound"},
	{ErrEmptyInput, "EmptyInput"},
	{ErrMalformedRow, "MalformedRow"},
	{ErrConnectionUnavailable, "ConnectionUnavailable"},
	{ErrSchemaConflict, "SchemaConflict"},
	{ErrLoadAborted, "LoadAborted"},
	{ErrTableMissing, "TableMissing"},
	{ErrQueryFailed, "QueryFailed"},
	{ErrWriteFailed, "WriteFailed"},
	{ErrConcurrentRunRejected, "ConcurrentRunRejected"},
}

// Error attaches a kind and the failing step to an underlying cause.
type Error struct {
	Kind error  // one of the Err* sentinels
	Op   string // step that failed, e.g. "copy batch 3"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError wraps err with kind. If err already carries a kind it is kept and
// only the op context is added.
func NewError(kind error, op string, err error) error {
	if err != nil && KindOf(err) != "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the name of err's kind, or "" when err carries none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return ""
}
