package flysystem

import (
	"context"
	"fmt"
	"time"

	"github.com/kmhrussell/Flysystem/backend"
	cd "github.com/kmhrussell/Flysystem/codec"
	cs "github.com/kmhrussell/Flysystem/contentstore"
	ps "github.com/kmhrussell/Flysystem/persist"
)

// Re-exported collaborator types so most callers only import the root
// package.
type (
	Backend = backend.Backend
	Object  = backend.Object
	Kind    = backend.Kind
	Config  = backend.Config
)

const (
	KindFile      = backend.KindFile
	KindDirectory = backend.KindDirectory
)

// Options tune the facade. Only Backend is required; others have sensible
// defaults.
type Options struct {
	// Required
	Backend Backend

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// ContentStore spills cached file bodies out of the metadata map into a
	// bounded byte store. nil keeps contents inline (unbounded).
	ContentStore cs.Store
	ContentTTL   time.Duration // 0 => entries do not expire

	// Persist enables snapshot preload at construction and persist at Close.
	// SnapshotCodec encodes the snapshot; nil => codec.JSON[Snapshot].
	Persist       ps.Store
	SnapshotCodec cd.Codec[Snapshot]
}

// New builds a Filesystem over opts.Backend. When Persist is configured, a
// stored snapshot is restored best-effort before the first operation; a
// load/decode failure starts cold and reports through Hooks, never fails
// construction.
func New(opts Options) (*Filesystem, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("flysystem: backend is required")
	}

	fs := &Filesystem{
		backend: opts.Backend,
		persist: opts.Persist,
		content: opts.ContentStore,
		exts:    make(map[string]Extension),
	}
	fs.log = coalesce[Logger](opts.Logger, NopLogger{})
	fs.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.SnapshotCodec != nil {
		fs.codec = opts.SnapshotCodec
	} else {
		fs.codec = cd.JSON[Snapshot]{}
	}
	fs.cache = newObjectCache(opts.ContentStore, opts.ContentTTL, fs.log, fs.hooks)

	if fs.persist != nil {
		fs.loadSnapshot(context.Background())
	}
	return fs, nil
}
