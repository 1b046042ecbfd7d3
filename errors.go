package flysystem

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. The concrete error types below carry the offending
// path/field/name; match on these to branch without unpacking.
var (
	ErrNotFound               = errors.New("flysystem: path not found")
	ErrAlreadyExists          = errors.New("flysystem: path already exists")
	ErrExtensionNotRegistered = errors.New("flysystem: extension not registered")
)

// NotFoundError is the precondition violation raised before any backend call
// when an operation requires path to exist and neither cache nor backend
// knows it.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("path %q not found", e.Path) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyExistsError is raised before any backend call when an operation
// requires path to be absent.
type AlreadyExistsError struct {
	Path string
}

func (e *AlreadyExistsError) Error() string { return fmt.Sprintf("path %q already exists", e.Path) }
func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// BackendError wraps a failure reported by the Backend. When a caller sees
// one, the cache's view of the affected paths is unchanged from before the
// call.
type BackendError struct {
	Op   string // operation name, e.g. "write", "listContents"
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s %q: %v", e.Op, e.Path, e.Err)
}
func (e *BackendError) Unwrap() error { return e.Err }

// UnknownFieldError reports a metadata field name outside the WithMetadata
// dispatch table. Invalid usage, raised before touching cache or backend.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown metadata field %q", e.Field)
}

// ExtensionError reports a lookup for an extension name nothing registered.
type ExtensionError struct {
	Name string
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("extension %q not registered", e.Name)
}
func (e *ExtensionError) Unwrap() error { return ErrExtensionNotRegistered }
