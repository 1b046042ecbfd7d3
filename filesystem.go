package flysystem

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kmhrussell/Flysystem/backend"
	cd "github.com/kmhrussell/Flysystem/codec"
	cs "github.com/kmhrussell/Flysystem/contentstore"
	"github.com/kmhrussell/Flysystem/internal/pathutil"
	ps "github.com/kmhrussell/Flysystem/persist"
)

var errFieldUnavailable = errors.New("field unavailable")

// Filesystem is the public entry point. Every operation consults the object
// cache first, falls through to the backend on a miss, and reconciles the
// result back into the cache. The facade holds no namespace state itself;
// the cache owns all of it.
//
// Safe for concurrent use; callers are expected to serialize mutations to
// the same path among themselves (last write wins otherwise).
type Filesystem struct {
	backend Backend
	cache   *objectCache
	log     Logger
	hooks   Hooks

	content cs.Store
	persist ps.Store
	codec   cd.Codec[Snapshot]

	extMu sync.RWMutex
	exts  map[string]Extension

	closeOnce sync.Once
	closeErr  error
}

// ------------------------------
// Preconditions
// ------------------------------

// assertPresent resolves the tri-state oracle to a hard yes/no, consulting
// the backend only on Unknown. A backend-confirmed path is written back so
// the next assertion is free.
func (f *Filesystem) assertPresent(ctx context.Context, path string) error {
	switch f.cache.has(path) {
	case PresencePresent:
		return nil
	case PresenceAbsent:
		f.hooks.NegativeHit(path)
		return &NotFoundError{Path: path}
	}
	f.hooks.CacheMiss("has", path)
	ok, err := f.backend.Has(ctx, path)
	if err != nil {
		return &BackendError{Op: "has", Path: path, Err: err}
	}
	if !ok {
		return &NotFoundError{Path: path}
	}
	f.cache.upsert(ctx, backend.Object{Path: path}, true)
	f.cache.ensureParents(path)
	return nil
}

func (f *Filesystem) assertAbsent(ctx context.Context, path string) error {
	switch f.cache.has(path) {
	case PresencePresent:
		return &AlreadyExistsError{Path: path}
	case PresenceAbsent:
		f.hooks.NegativeHit(path)
		return nil
	}
	f.hooks.CacheMiss("has", path)
	ok, err := f.backend.Has(ctx, path)
	if err != nil {
		return &BackendError{Op: "has", Path: path, Err: err}
	}
	if ok {
		f.cache.upsert(ctx, backend.Object{Path: path}, true)
		f.cache.ensureParents(path)
		return &AlreadyExistsError{Path: path}
	}
	return nil
}

// ------------------------------
// Existence
// ------------------------------

// Has reports whether path exists. Answered from the cache on a confirmed
// record or via parent completeness; only Unknown reaches the backend.
func (f *Filesystem) Has(ctx context.Context, path string) (bool, error) {
	path = pathutil.Normalize(path)
	switch f.cache.has(path) {
	case PresencePresent:
		f.hooks.CacheHit("has", path)
		return true, nil
	case PresenceAbsent:
		f.hooks.NegativeHit(path)
		return false, nil
	}
	f.hooks.CacheMiss("has", path)
	ok, err := f.backend.Has(ctx, path)
	if err != nil {
		return false, &BackendError{Op: "has", Path: path, Err: err}
	}
	if ok {
		f.cache.upsert(ctx, backend.Object{Path: path}, true)
		f.cache.ensureParents(path)
	}
	return ok, nil
}

// ------------------------------
// Writes
// ------------------------------

// Write creates a new file. Fails with AlreadyExistsError when path exists.
func (f *Filesystem) Write(ctx context.Context, path string, contents []byte, cfg Config) error {
	path = pathutil.Normalize(path)
	if err := f.assertAbsent(ctx, path); err != nil {
		return err
	}
	obj, err := f.backend.Write(ctx, path, contents, cfg)
	if err != nil {
		return &BackendError{Op: "write", Path: path, Err: err}
	}
	f.writeBackCreation(ctx, path, obj)
	return nil
}

// WriteStream creates a new file from r. The stream is handed to the backend
// unmodified; only the descriptor the backend reports is cached.
func (f *Filesystem) WriteStream(ctx context.Context, path string, r io.Reader, cfg Config) error {
	path = pathutil.Normalize(path)
	if err := f.assertAbsent(ctx, path); err != nil {
		return err
	}
	obj, err := f.backend.WriteStream(ctx, path, r, cfg)
	if err != nil {
		return &BackendError{Op: "writeStream", Path: path, Err: err}
	}
	f.writeBackCreation(ctx, path, obj)
	return nil
}

// writeBackCreation reconciles a successful create: the parent's child set
// changed, the new record is confirmed, and every ancestor is now known to
// exist.
func (f *Filesystem) writeBackCreation(ctx context.Context, path string, obj backend.Object) {
	f.cache.childSetChanged(pathutil.Parent(path))
	f.cache.upsert(ctx, obj, true)
	f.cache.ensureParents(path)
	f.log.Debug("created", Fields{"path": path, "kind": obj.Kind.String()})
}

// Update overwrites an existing file. Fails with NotFoundError when path
// does not exist.
func (f *Filesystem) Update(ctx context.Context, path string, contents []byte, cfg Config) error {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return err
	}
	obj, err := f.backend.Update(ctx, path, contents, cfg)
	if err != nil {
		return &BackendError{Op: "update", Path: path, Err: err}
	}
	if obj.Contents == nil {
		// The new body is in hand even when the backend's descriptor
		// omits it; caching it keeps reads answering from the cache.
		obj.Contents = contents
	}
	f.cache.dropContents(ctx, path)
	f.cache.upsert(ctx, obj, true)
	return nil
}

func (f *Filesystem) UpdateStream(ctx context.Context, path string, r io.Reader, cfg Config) error {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return err
	}
	obj, err := f.backend.UpdateStream(ctx, path, r, cfg)
	if err != nil {
		return &BackendError{Op: "updateStream", Path: path, Err: err}
	}
	// The stream already went to the backend; any cached body is stale now.
	f.cache.dropContents(ctx, path)
	f.cache.upsert(ctx, obj, true)
	return nil
}

// Put writes path, creating or overwriting as needed.
func (f *Filesystem) Put(ctx context.Context, path string, contents []byte, cfg Config) error {
	ok, err := f.Has(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		return f.Update(ctx, path, contents, cfg)
	}
	return f.Write(ctx, path, contents, cfg)
}

// ------------------------------
// Reads
// ------------------------------

// Read returns the file contents, from cache when a previous operation
// materialized them.
func (f *Filesystem) Read(ctx context.Context, path string) ([]byte, error) {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return nil, err
	}
	if obj, ok := f.cache.object(ctx, path); ok && obj.Contents != nil {
		f.hooks.CacheHit("read", path)
		return obj.Contents, nil
	}
	f.hooks.CacheMiss("read", path)
	obj, err := f.backend.Read(ctx, path)
	if err != nil {
		return nil, &BackendError{Op: "read", Path: path, Err: err}
	}
	f.cache.upsert(ctx, obj, true)
	return obj.Contents, nil
}

// ReadStream opens path for streaming. The stream is never cached; the
// descriptor the backend returned alongside it is.
func (f *Filesystem) ReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return nil, err
	}
	obj, rc, err := f.backend.ReadStream(ctx, path)
	if err != nil {
		return nil, &BackendError{Op: "readStream", Path: path, Err: err}
	}
	f.cache.upsert(ctx, obj, true)
	return rc, nil
}

// ReadAndDelete reads path and deletes it in one call.
func (f *Filesystem) ReadAndDelete(ctx context.Context, path string) ([]byte, error) {
	contents, err := f.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := f.Delete(ctx, path); err != nil {
		return nil, err
	}
	return contents, nil
}

// ------------------------------
// Namespace mutations
// ------------------------------

// Rename moves from to to. Requires from to exist and to to be absent.
func (f *Filesystem) Rename(ctx context.Context, from, to string) error {
	from = pathutil.Normalize(from)
	to = pathutil.Normalize(to)
	if err := f.assertPresent(ctx, from); err != nil {
		return err
	}
	if err := f.assertAbsent(ctx, to); err != nil {
		return err
	}
	if err := f.backend.Rename(ctx, from, to); err != nil {
		return &BackendError{Op: "rename", Path: from, Err: err}
	}
	f.cache.rename(ctx, from, to)
	f.log.Debug("renamed", Fields{"from": from, "to": to})
	return nil
}

// Delete removes a file.
func (f *Filesystem) Delete(ctx context.Context, path string) error {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return err
	}
	if err := f.backend.Delete(ctx, path); err != nil {
		return &BackendError{Op: "delete", Path: path, Err: err}
	}
	f.cache.remove(ctx, path)
	return nil
}

// DeleteDir removes a directory and everything under it.
func (f *Filesystem) DeleteDir(ctx context.Context, dir string) error {
	dir = pathutil.Normalize(dir)
	if err := f.assertPresent(ctx, dir); err != nil {
		return err
	}
	if err := f.backend.DeleteDir(ctx, dir); err != nil {
		return &BackendError{Op: "deleteDir", Path: dir, Err: err}
	}
	f.cache.removeDir(ctx, dir)
	return nil
}

// CreateDir creates a directory. Fails with AlreadyExistsError when dir
// exists.
func (f *Filesystem) CreateDir(ctx context.Context, dir string, cfg Config) error {
	dir = pathutil.Normalize(dir)
	if err := f.assertAbsent(ctx, dir); err != nil {
		return err
	}
	obj, err := f.backend.CreateDir(ctx, dir, cfg)
	if err != nil {
		return &BackendError{Op: "createDir", Path: dir, Err: err}
	}
	f.writeBackCreation(ctx, dir, obj)
	return nil
}

// ------------------------------
// Listings
// ------------------------------

// ListContents enumerates dir. Served from cache when the requested mode is
// known complete; otherwise one backend listing is merged in and the merged
// view returned.
func (f *Filesystem) ListContents(ctx context.Context, dir string, recursive bool) ([]Object, error) {
	dir = pathutil.Normalize(dir)
	if f.cache.isComplete(dir, recursive) {
		f.hooks.ListingServed(dir, recursive, true)
		return f.cache.listing(dir, recursive), nil
	}
	entries, err := f.backend.ListContents(ctx, dir, recursive)
	if err != nil {
		return nil, &BackendError{Op: "listContents", Path: dir, Err: err}
	}
	f.cache.storeListing(ctx, dir, recursive, entries)
	f.hooks.ListingServed(dir, recursive, false)
	return f.cache.listing(dir, recursive), nil
}

// ------------------------------
// Metadata
// ------------------------------

// metadataComplete reports whether a cached record can answer Metadata
// without the backend: kind and timestamp known, size known for files.
func metadataComplete(o backend.Object) bool {
	if o.Kind == backend.KindUnknown || o.Timestamp == nil {
		return false
	}
	return o.Kind == backend.KindDirectory || o.Size != nil
}

// Metadata returns the base descriptor for path (kind, size, timestamp and
// whatever else the backend volunteered). Contents are never included.
func (f *Filesystem) Metadata(ctx context.Context, path string) (Object, error) {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return Object{}, err
	}
	if obj, ok := f.cache.object(ctx, path); ok && metadataComplete(obj) {
		f.hooks.CacheHit("metadata", path)
		obj.Contents = nil
		return obj, nil
	}
	f.hooks.CacheMiss("metadata", path)
	res, err := f.backend.Metadata(ctx, path)
	if err != nil {
		return Object{}, &BackendError{Op: "metadata", Path: path, Err: err}
	}
	f.cache.upsert(ctx, res, true)
	obj, _ := f.cache.object(ctx, path)
	obj.Contents = nil
	return obj, nil
}

// fieldValue is the uniform single-field read: cache first, backend on a
// miss, write-back on success. A backend answer that still lacks the field
// is a backend failure, never a cached negative.
func fieldValue[T any](f *Filesystem, ctx context.Context, path, op string,
	get func(backend.Object) *T,
	fetch func(context.Context, string) (backend.Object, error),
) (T, error) {
	var zero T
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return zero, err
	}
	if obj, ok := f.cache.object(ctx, path); ok {
		if v := get(obj); v != nil {
			f.hooks.CacheHit(op, path)
			return *v, nil
		}
	}
	f.hooks.CacheMiss(op, path)
	res, err := fetch(ctx, path)
	if err != nil {
		return zero, &BackendError{Op: op, Path: path, Err: err}
	}
	f.cache.upsert(ctx, res, true)
	if v := get(res); v != nil {
		return *v, nil
	}
	return zero, &BackendError{Op: op, Path: path, Err: errFieldUnavailable}
}

func (f *Filesystem) Mimetype(ctx context.Context, path string) (string, error) {
	return fieldValue(f, ctx, path, "mimetype",
		func(o backend.Object) *string { return o.Mimetype }, f.backend.Mimetype)
}

func (f *Filesystem) Timestamp(ctx context.Context, path string) (time.Time, error) {
	return fieldValue(f, ctx, path, "timestamp",
		func(o backend.Object) *time.Time { return o.Timestamp }, f.backend.Timestamp)
}

func (f *Filesystem) Visibility(ctx context.Context, path string) (string, error) {
	return fieldValue(f, ctx, path, "visibility",
		func(o backend.Object) *string { return o.Visibility }, f.backend.Visibility)
}

func (f *Filesystem) Size(ctx context.Context, path string) (int64, error) {
	return fieldValue(f, ctx, path, "size",
		func(o backend.Object) *int64 { return o.Size }, f.backend.Size)
}

// SetVisibility updates path's visibility and reconciles the reported
// descriptor.
func (f *Filesystem) SetVisibility(ctx context.Context, path, visibility string) error {
	path = pathutil.Normalize(path)
	if err := f.assertPresent(ctx, path); err != nil {
		return err
	}
	obj, err := f.backend.SetVisibility(ctx, path, visibility)
	if err != nil {
		return &BackendError{Op: "setVisibility", Path: path, Err: err}
	}
	f.cache.upsert(ctx, obj, true)
	return nil
}

// metadataFields is the enumerated dispatch table for WithMetadata. Unknown
// names are rejected before any cache or backend access.
var metadataFields = map[string]func(*Filesystem, context.Context, string) error{
	"mimetype": func(f *Filesystem, ctx context.Context, p string) error {
		_, err := f.Mimetype(ctx, p)
		return err
	},
	"timestamp": func(f *Filesystem, ctx context.Context, p string) error {
		_, err := f.Timestamp(ctx, p)
		return err
	},
	"visibility": func(f *Filesystem, ctx context.Context, p string) error {
		_, err := f.Visibility(ctx, p)
		return err
	},
	"size": func(f *Filesystem, ctx context.Context, p string) error {
		_, err := f.Size(ctx, p)
		return err
	},
}

// WithMetadata returns path's base descriptor enriched with each requested
// field, fetching only what the cache does not already hold.
func (f *Filesystem) WithMetadata(ctx context.Context, path string, fields []string) (Object, error) {
	path = pathutil.Normalize(path)
	for _, name := range fields {
		if _, ok := metadataFields[name]; !ok {
			return Object{}, &UnknownFieldError{Field: name}
		}
	}
	if _, err := f.Metadata(ctx, path); err != nil {
		return Object{}, err
	}
	for _, name := range fields {
		if err := metadataFields[name](f, ctx, path); err != nil {
			return Object{}, err
		}
	}
	obj, _ := f.cache.object(ctx, path)
	obj.Contents = nil
	return obj, nil
}

// ------------------------------
// Lifecycle
// ------------------------------

// FlushCache drops every record and completeness flag. The next operation
// on any path consults the backend again.
func (f *Filesystem) FlushCache(ctx context.Context) {
	f.cache.flush(ctx)
	f.log.Debug("cache flushed", nil)
}

// Close persists the snapshot when configured and releases the persist and
// content stores. Subsequent calls return the first result.
func (f *Filesystem) Close(ctx context.Context) error {
	f.closeOnce.Do(func() {
		if f.persist != nil {
			f.saveSnapshot(ctx)
			_ = f.persist.Close(ctx)
		}
		if f.content != nil {
			f.closeErr = f.content.Close(ctx)
		}
	})
	return f.closeErr
}

func (f *Filesystem) loadSnapshot(ctx context.Context) {
	data, ok, err := f.persist.Load(ctx)
	if err != nil {
		f.hooks.SnapshotLoadError(err)
		f.log.Warn("snapshot load failed; starting cold", Fields{"err": err})
		return
	}
	if !ok {
		return
	}
	s, err := f.codec.Decode(data)
	if err != nil {
		f.hooks.SnapshotLoadError(err)
		f.log.Warn("snapshot decode failed; starting cold", Fields{"err": err})
		return
	}
	f.cache.restore(ctx, s)
	f.log.Debug("snapshot restored", Fields{"objects": len(s.Objects)})
}

func (f *Filesystem) saveSnapshot(ctx context.Context) {
	data, err := f.codec.Encode(f.cache.snapshot())
	if err != nil {
		f.hooks.SnapshotSaveError(err)
		f.log.Error("snapshot encode failed", Fields{"err": err})
		return
	}
	if err := f.persist.Save(ctx, data); err != nil {
		f.hooks.SnapshotSaveError(err)
		f.log.Error("snapshot save failed", Fields{"err": err})
	}
}
