// Package backend defines the storage contract consumed by flysystem.
//
// A Backend performs the actual storage operation and reports the outcome as
// an Object descriptor on success or an error on failure. Implementations
// MUST be transparent about what they know: every field they can determine
// cheaply for the operation at hand should be filled in on the returned
// Object, and fields they cannot determine must be left unset. The facade
// merges descriptors field-by-field into its cache, so a half-filled Object
// is fine; a wrong one is not.
//
// Backends never see the cache. They are free to be remote, slow, or
// eventually consistent; the facade only trusts what a call actually
// returned.
package backend

import (
	"context"
	"io"
	"time"
)

// Kind classifies a path as a file or a directory.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFile
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "dir"
	default:
		return "unknown"
	}
}

// Visibility values passed through to backends. The facade treats visibility
// as opaque; these two are the conventional settings.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Object describes one path's state as far as a single operation could tell.
// Path and Kind are always set on a descriptor returned by a Backend; the
// remaining fields are independently optional. Nil means "not determined by
// this operation", never "absent on the backend".
type Object struct {
	Path string `json:"path" msgpack:"path"`
	Kind Kind   `json:"kind" msgpack:"kind"`

	Size       *int64     `json:"size,omitempty" msgpack:"size,omitempty"`
	Mimetype   *string    `json:"mimetype,omitempty" msgpack:"mimetype,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Visibility *string    `json:"visibility,omitempty" msgpack:"visibility,omitempty"`

	// Contents is only ever set for files, and only by operations that
	// materialized the full contents (read, write).
	Contents []byte `json:"contents,omitempty" msgpack:"contents,omitempty"`
}

// Merge folds src into o, last writer wins per field. Unset fields in src
// never erase knowledge already held by o.
func (o *Object) Merge(src Object) {
	if src.Kind != KindUnknown {
		o.Kind = src.Kind
	}
	if src.Size != nil {
		o.Size = src.Size
	}
	if src.Mimetype != nil {
		o.Mimetype = src.Mimetype
	}
	if src.Timestamp != nil {
		o.Timestamp = src.Timestamp
	}
	if src.Visibility != nil {
		o.Visibility = src.Visibility
	}
	if src.Contents != nil {
		o.Contents = src.Contents
	}
}

// Clone returns a deep copy. The cache hands out clones so callers cannot
// mutate records behind its back.
func (o Object) Clone() Object {
	out := o
	if o.Size != nil {
		v := *o.Size
		out.Size = &v
	}
	if o.Mimetype != nil {
		v := *o.Mimetype
		out.Mimetype = &v
	}
	if o.Timestamp != nil {
		v := *o.Timestamp
		out.Timestamp = &v
	}
	if o.Visibility != nil {
		v := *o.Visibility
		out.Visibility = &v
	}
	if o.Contents != nil {
		out.Contents = append([]byte(nil), o.Contents...)
	}
	return out
}

// Helpers for building descriptors without pointer boilerplate.
func Int64(v int64) *int64        { return &v }
func String(v string) *string     { return &v }
func Time(v time.Time) *time.Time { return &v }

// Config carries per-write options the facade passes through unmodified.
type Config struct {
	Visibility string // "" => backend default
	Mimetype   string // "" => backend detects
}

// Backend is the raw storage contract. One method per operation; each either
// returns a descriptor for the affected path or an error. No method touches
// more than the paths named in its arguments.
//
// Write/CreateDir must fail if the path already exists; Update must fail if
// it does not. The facade asserts these preconditions from its cache first,
// but only the backend's answer is authoritative on a cache miss.
type Backend interface {
	// Has reports raw existence of path.
	Has(ctx context.Context, path string) (bool, error)

	Write(ctx context.Context, path string, contents []byte, cfg Config) (Object, error)
	WriteStream(ctx context.Context, path string, r io.Reader, cfg Config) (Object, error)
	Update(ctx context.Context, path string, contents []byte, cfg Config) (Object, error)
	UpdateStream(ctx context.Context, path string, r io.Reader, cfg Config) (Object, error)

	// Read returns the descriptor with Contents materialized.
	Read(ctx context.Context, path string) (Object, error)
	// ReadStream returns the descriptor without Contents plus a stream the
	// caller owns. The facade never caches the stream.
	ReadStream(ctx context.Context, path string) (Object, io.ReadCloser, error)

	Rename(ctx context.Context, from, to string) error
	Delete(ctx context.Context, path string) error
	DeleteDir(ctx context.Context, dir string) error
	CreateDir(ctx context.Context, dir string, cfg Config) (Object, error)

	// ListContents enumerates dir. The result is a complete snapshot for the
	// requested mode; the facade relies on that to mark completeness.
	ListContents(ctx context.Context, dir string, recursive bool) ([]Object, error)

	// Metadata returns kind, size, timestamp (and visibility/mimetype when
	// cheap) in one descriptor.
	Metadata(ctx context.Context, path string) (Object, error)
	Mimetype(ctx context.Context, path string) (Object, error)
	Timestamp(ctx context.Context, path string) (Object, error)
	Visibility(ctx context.Context, path string) (Object, error)
	Size(ctx context.Context, path string) (Object, error)

	SetVisibility(ctx context.Context, path, visibility string) (Object, error)
}
