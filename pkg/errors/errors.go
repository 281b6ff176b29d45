// Package errors defines the three error kinds the engine surfaces to
// callers: NotFound, Invalid and Storage. The three kinds share one Error
// type told apart by its Kind, so callers use errors.As on *Error (or Is) to
// recover the kind and reason; a few named failures keep their own struct
// types, following the teacher's one-struct-per-failure-mode style.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure per the engine's error handling design.
type Kind int

const (
	KindNotFound Kind = iota
	KindInvalid
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalid:
		return "Invalid"
	case KindStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// Error is the common shape behind NotFound/Invalid/Storage. Cause, when
// set, is reachable through errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NotFound builds a NotFound("<what>") error.
func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what}
}

// Invalid builds an Invalid("<reason>") error.
func Invalid(reason string) error {
	return &Error{Kind: KindInvalid, Message: reason}
}

// InvalidWrap builds an Invalid("<reason>") error wrapping cause.
func InvalidWrap(reason string, cause error) error {
	return &Error{Kind: KindInvalid, Message: reason, Cause: cause}
}

// StorageErr builds a Storage("<reason>") error, optionally wrapping cause.
func StorageErr(reason string, cause error) error {
	return &Error{Kind: KindStorage, Message: reason, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// --- Named entity errors, kept in the teacher's one-struct-per-error style ---

type TableAlreadyExistsError struct{ Name string }

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type TableNotFoundError struct{ Name string }

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

type CollectionNotFoundError struct{ Name string }

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.Name)
}

type PrimaryKeyNotDefinedError struct{ TableName string }

func (e *PrimaryKeyNotDefinedError) Error() string {
	return fmt.Sprintf("primary key not defined for table %q", e.TableName)
}

type DuplicateKeyError struct{ Key string }

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("unique constraint violation: key %q already exists in unique index", e.Key)
}

type IndexNotFoundError struct{ Name string }

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.Name)
}

type IndexAlreadyExistsError struct{ Name string }

func (e *IndexAlreadyExistsError) Error() string {
	return fmt.Sprintf("index %q already exists", e.Name)
}

type ColumnNotFoundError struct {
	Table, Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found on table %q", e.Column, e.Table)
}
