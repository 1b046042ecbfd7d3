package flysystem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kmhrussell/Flysystem/backend"
	"github.com/kmhrussell/Flysystem/contentstore"
	"github.com/kmhrussell/Flysystem/internal/pathutil"
)

// record is one path's cached state. confirmed means the path is known to
// exist on the backend; an unconfirmed record only carries field knowledge.
type record struct {
	obj       backend.Object
	confirmed bool

	// spilled marks that obj.Contents lives in the content store under the
	// record's path rather than inline.
	spilled bool
}

// completeModes tracks listing exhaustiveness per directory.
// recursive implies shallow.
type completeModes struct {
	shallow   bool
	recursive bool
}

// objectCache owns the derived view of the backend namespace: one record per
// known path plus per-directory completeness flags. It never talks to the
// backend; the facade feeds it write-backs and asks it tri-state questions.
//
// One RWMutex guards both maps. Mutating primitives are atomic with respect
// to concurrent reads; the facade performs at most one mutation per path at
// a time but readers may race freely.
type objectCache struct {
	mu       sync.RWMutex
	objects  map[string]*record
	complete map[string]completeModes

	// optional bounded spill store for file contents; nil => inline
	content    contentstore.Store
	contentTTL time.Duration

	log   Logger
	hooks Hooks
}

func newObjectCache(content contentstore.Store, contentTTL time.Duration, log Logger, hooks Hooks) *objectCache {
	return &objectCache{
		objects:    make(map[string]*record),
		complete:   make(map[string]completeModes),
		content:    content,
		contentTTL: contentTTL,
		log:        log,
		hooks:      hooks,
	}
}

// has is the three-valued existence oracle. Present on a confirmed record,
// Absent when the parent's shallow listing is known complete and the path is
// not in it, Unknown otherwise.
func (c *objectCache) has(path string) Presence {
	if path == pathutil.Root {
		return PresencePresent
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.objects[path]; ok {
		if rec.confirmed {
			return PresencePresent
		}
		// Field knowledge without confirmed existence (e.g. restored from a
		// stale snapshot). Not enough to answer either way.
		return PresenceUnknown
	}
	if c.completeLocked(pathutil.Parent(path), false) {
		return PresenceAbsent
	}
	return PresenceUnknown
}

func (c *objectCache) isComplete(dir string, recursive bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completeLocked(dir, recursive)
}

func (c *objectCache) completeLocked(dir string, recursive bool) bool {
	m := c.complete[dir]
	if recursive {
		return m.recursive
	}
	return m.shallow || m.recursive
}

// upsert merges a backend descriptor into the record for its path, creating
// the record if absent. confirmed additionally marks the path known-present.
// upsert never touches completeness: it is a write-back, not a namespace
// mutation.
func (c *objectCache) upsert(ctx context.Context, obj backend.Object, confirmed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertLocked(ctx, obj, confirmed)
}

func (c *objectCache) upsertLocked(ctx context.Context, obj backend.Object, confirmed bool) {
	rec, ok := c.objects[obj.Path]
	if !ok {
		rec = &record{obj: backend.Object{Path: obj.Path}}
		c.objects[obj.Path] = rec
	}
	rec.obj.Merge(obj)
	rec.confirmed = rec.confirmed || confirmed

	if rec.obj.Contents != nil && c.content != nil {
		b := rec.obj.Contents
		ok, err := c.content.Set(ctx, obj.Path, b, int64(len(b)), c.contentTTL)
		if err == nil && ok {
			rec.obj.Contents = nil
			rec.spilled = true
		} else {
			if err != nil {
				c.log.Warn("content store set failed; keeping contents inline", Fields{"path": obj.Path, "err": err})
			} else {
				c.hooks.ContentSetRejected(obj.Path)
			}
			rec.spilled = false
		}
	}
}

// dropContents forgets any cached contents for path while keeping the rest
// of the record. Used when the body changed but the new bytes are not in
// hand, so a later read must go to the backend.
func (c *objectCache) dropContents(ctx context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.objects[path]
	if !ok {
		return
	}
	rec.obj.Contents = nil
	if rec.spilled && c.content != nil {
		if err := c.content.Del(ctx, path); err != nil {
			c.log.Warn("content store del failed", Fields{"path": path, "err": err})
		}
	}
	rec.spilled = false
}

// ensureParents synthesizes confirmed Directory records for every ancestor
// of path not already known. A child's existence proves each ancestor
// exists, but says nothing about their full child sets, so completeness is
// left alone.
func (c *objectCache) ensureParents(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, anc := range pathutil.Ancestors(path) {
		if anc == pathutil.Root {
			continue
		}
		rec, ok := c.objects[anc]
		if !ok {
			rec = &record{obj: backend.Object{Path: anc, Kind: backend.KindDirectory}}
			c.objects[anc] = rec
		}
		if rec.obj.Kind == backend.KindUnknown {
			rec.obj.Kind = backend.KindDirectory
		}
		rec.confirmed = true
	}
}

// invalidateChildSetLocked drops completeness for dir (both modes) and
// recursive completeness for every ancestor, since a recursive listing of an
// ancestor enumerated dir's subtree too.
func (c *objectCache) invalidateChildSetLocked(dir string) {
	delete(c.complete, dir)
	for _, anc := range pathutil.Ancestors(dir) {
		m, ok := c.complete[anc]
		if !ok || !m.recursive {
			continue
		}
		m.recursive = false
		if m.shallow {
			c.complete[anc] = m
		} else {
			delete(c.complete, anc)
		}
	}
}

// childSetChanged records that dir's membership mutated: completeness for
// dir and recursive completeness for its ancestors no longer hold.
func (c *objectCache) childSetChanged(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateChildSetLocked(dir)
}

// remove forgets path entirely and invalidates its parent's child set.
func (c *objectCache) remove(ctx context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(ctx, path)
	c.invalidateChildSetLocked(pathutil.Parent(path))
}

func (c *objectCache) dropLocked(ctx context.Context, path string) {
	if rec, ok := c.objects[path]; ok {
		if rec.spilled && c.content != nil {
			_ = c.content.Del(ctx, path)
		}
		delete(c.objects, path)
	}
	delete(c.complete, path)
}

// removeDir forgets dir and every cached descendant, then invalidates the
// ancestor chain.
func (c *objectCache) removeDir(ctx context.Context, dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropSubtreeLocked(ctx, dir)
	c.dropLocked(ctx, dir)
	c.invalidateChildSetLocked(pathutil.Parent(dir))
}

func (c *objectCache) dropSubtreeLocked(ctx context.Context, dir string) {
	for p := range c.objects {
		if pathutil.IsDescendant(dir, p) {
			c.dropLocked(ctx, p)
		}
	}
	for p := range c.complete {
		if pathutil.IsDescendant(dir, p) {
			delete(c.complete, p)
		}
	}
}

// rename moves the record at from to to, clobbering whatever was cached at
// to. All cached descendants of both prefixes are dropped rather than having
// their keys rewritten; they are rediscovered on demand. The source subtree
// is swept even when the record's kind is unknown (a directory confirmed via
// Has alone never learns its kind), and sweeping under a file is a no-op.
// Both parents' child sets are invalidated.
func (c *objectCache) rename(ctx context.Context, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.objects[from]
	c.dropSubtreeLocked(ctx, from)
	c.dropSubtreeLocked(ctx, to)
	c.dropLocked(ctx, to)

	if ok {
		if rec.spilled && c.content != nil {
			// move spilled contents under the new key, best effort
			if b, hit, err := c.content.Get(ctx, from); err == nil && hit {
				if stored, err := c.content.Set(ctx, to, b, int64(len(b)), c.contentTTL); err != nil || !stored {
					rec.spilled = false
				}
			} else {
				rec.spilled = false
			}
			_ = c.content.Del(ctx, from)
		}
		delete(c.objects, from)
		delete(c.complete, from)
		rec.obj.Path = to
		c.objects[to] = rec
	}

	c.invalidateChildSetLocked(pathutil.Parent(from))
	c.invalidateChildSetLocked(pathutil.Parent(to))
}

// storeListing merges a full backend listing for (dir, recursive) and marks
// it complete. A recursive listing fully enumerates every discovered
// subdirectory, so those are marked recursively complete as well.
func (c *objectCache) storeListing(ctx context.Context, dir string, recursive bool, entries []backend.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range entries {
		c.upsertLocked(ctx, e, true)
	}

	c.markCompleteLocked(dir, recursive)
	if recursive {
		for _, e := range entries {
			if e.Kind == backend.KindDirectory {
				c.markCompleteLocked(e.Path, true)
			}
		}
	}
}

func (c *objectCache) markCompleteLocked(dir string, recursive bool) {
	m := c.complete[dir]
	if recursive {
		m.recursive = true
	} else {
		m.shallow = true
	}
	c.complete[dir] = m
}

// listing returns clones of all confirmed records under dir for the given
// mode, sorted by path. Contents are not materialized; callers wanting file
// bodies go through object(). Only meaningful after isComplete returned
// true, or immediately after storeListing.
func (c *objectCache) listing(dir string, recursive bool) []backend.Object {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []backend.Object
	for p, rec := range c.objects {
		if !rec.confirmed {
			continue
		}
		if !pathutil.IsDescendant(dir, p) {
			continue
		}
		if !recursive && pathutil.Parent(p) != dir {
			continue
		}
		o := rec.obj.Clone()
		o.Contents = nil
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// object returns a clone of the record for path with spilled contents
// re-materialized from the content store. ok is false when nothing is cached.
func (c *objectCache) object(ctx context.Context, path string) (backend.Object, bool) {
	c.mu.RLock()
	rec, ok := c.objects[path]
	if !ok {
		c.mu.RUnlock()
		return backend.Object{}, false
	}
	out := rec.obj.Clone()
	spilled := rec.spilled
	c.mu.RUnlock()

	if spilled && c.content != nil {
		if b, hit, err := c.content.Get(ctx, path); err == nil && hit {
			out.Contents = b
		}
		// evicted or errored: contents simply unknown again
	}
	return out, true
}

// flush clears all records and completeness flags.
func (c *objectCache) flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.content != nil {
		for p, rec := range c.objects {
			if rec.spilled {
				_ = c.content.Del(ctx, p)
			}
		}
	}
	c.objects = make(map[string]*record)
	c.complete = make(map[string]completeModes)
}

// snapshot captures the cache for persistence. Spilled contents are not
// carried over; they are an in-memory acceleration only.
func (c *objectCache) snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Complete: make(map[string]SnapshotModes, len(c.complete)),
	}
	for _, rec := range c.objects {
		o := rec.obj.Clone()
		if rec.spilled {
			o.Contents = nil
		}
		s.Objects = append(s.Objects, SnapshotObject{Object: o, Confirmed: rec.confirmed})
	}
	sort.Slice(s.Objects, func(i, j int) bool { return s.Objects[i].Object.Path < s.Objects[j].Object.Path })
	for dir, m := range c.complete {
		s.Complete[dir] = SnapshotModes{Shallow: m.shallow, Recursive: m.recursive}
	}
	return s
}

// restore replaces the cache contents with a previously captured snapshot.
func (c *objectCache) restore(ctx context.Context, s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects = make(map[string]*record, len(s.Objects))
	c.complete = make(map[string]completeModes, len(s.Complete))
	for _, so := range s.Objects {
		if so.Object.Path == "" {
			continue
		}
		c.upsertLocked(ctx, so.Object, so.Confirmed)
	}
	for dir, m := range s.Complete {
		c.complete[dir] = completeModes{shallow: m.Shallow, recursive: m.Recursive}
	}
}
