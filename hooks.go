package flysystem

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking. The facade calls them on
// hot paths.
type Hooks interface {
	// The cache answered a read operation without consulting the backend.
	CacheHit(op, path string)

	// The cache could not answer; the backend was consulted.
	CacheMiss(op, path string)

	// An existence check was answered "absent" purely from parent
	// completeness, with no backend call.
	NegativeHit(path string)

	// A listing was served. fromCache is false when the backend was asked.
	ListingServed(dir string, recursive, fromCache bool)

	// The content store rejected a Set (backpressure/eviction). The entry
	// simply stays uncached; correctness is unaffected.
	ContentSetRejected(path string)

	// Snapshot persistence failed at construction (load) or Close (save).
	SnapshotLoadError(err error)
	SnapshotSaveError(err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) CacheHit(string, string)          {}
func (NopHooks) CacheMiss(string, string)         {}
func (NopHooks) NegativeHit(string)               {}
func (NopHooks) ListingServed(string, bool, bool) {}
func (NopHooks) ContentSetRejected(string)        {}
func (NopHooks) SnapshotLoadError(error)          {}
func (NopHooks) SnapshotSaveError(error)          {}
