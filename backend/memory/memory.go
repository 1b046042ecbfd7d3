// Package memory implements backend.Backend over in-process maps. It is the
// reference backend: exact contract semantics, no IO, deterministic
// timestamps under test via SetClock.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/kmhrussell/Flysystem/backend"
	"github.com/kmhrussell/Flysystem/internal/pathutil"
)

var (
	ErrNotExist = errors.New("memory: path does not exist")
	ErrExist    = errors.New("memory: path already exists")
	ErrNotFile  = errors.New("memory: path is not a file")
	ErrNotDir   = errors.New("memory: path is not a directory")
)

type file struct {
	contents   []byte
	mimetype   string
	timestamp  time.Time
	visibility string
}

type dir struct {
	timestamp  time.Time
	visibility string
}

// Backend is a thread-safe in-memory store. The zero value is not usable;
// construct with New.
type Backend struct {
	mu    sync.RWMutex
	files map[string]*file
	dirs  map[string]*dir
	now   func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		files: make(map[string]*file),
		dirs:  make(map[string]*dir),
		now:   time.Now,
	}
}

// SetClock replaces the timestamp source. Test hook.
func (b *Backend) SetClock(now func() time.Time) { b.now = now }

func (b *Backend) Has(_ context.Context, p string) (bool, error) {
	p = pathutil.Normalize(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.existsLocked(p), nil
}

func (b *Backend) existsLocked(p string) bool {
	if p == pathutil.Root {
		return true
	}
	if _, ok := b.files[p]; ok {
		return true
	}
	_, ok := b.dirs[p]
	return ok
}

// ensureDirsLocked registers every ancestor of p as a directory, the way
// object stores materialize intermediate prefixes.
func (b *Backend) ensureDirsLocked(p string) {
	for _, anc := range pathutil.Ancestors(p) {
		if anc == pathutil.Root {
			continue
		}
		if _, ok := b.dirs[anc]; !ok {
			b.dirs[anc] = &dir{timestamp: b.now(), visibility: backend.VisibilityPublic}
		}
	}
}

func detectMimetype(p string, contents []byte) string {
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	if len(contents) > 0 {
		return http.DetectContentType(contents)
	}
	return "application/octet-stream"
}

func (b *Backend) descriptorLocked(p string) backend.Object {
	if f, ok := b.files[p]; ok {
		return backend.Object{
			Path:       p,
			Kind:       backend.KindFile,
			Size:       backend.Int64(int64(len(f.contents))),
			Mimetype:   backend.String(f.mimetype),
			Timestamp:  backend.Time(f.timestamp),
			Visibility: backend.String(f.visibility),
		}
	}
	d := b.dirs[p]
	return backend.Object{
		Path:       p,
		Kind:       backend.KindDirectory,
		Timestamp:  backend.Time(d.timestamp),
		Visibility: backend.String(d.visibility),
	}
}

func (b *Backend) Write(_ context.Context, p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	p = pathutil.Normalize(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existsLocked(p) {
		return backend.Object{}, fmt.Errorf("write %q: %w", p, ErrExist)
	}
	return b.putLocked(p, contents, cfg), nil
}

func (b *Backend) WriteStream(ctx context.Context, p string, r io.Reader, cfg backend.Config) (backend.Object, error) {
	contents, err := io.ReadAll(r)
	if err != nil {
		return backend.Object{}, err
	}
	return b.Write(ctx, p, contents, cfg)
}

func (b *Backend) Update(_ context.Context, p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	p = pathutil.Normalize(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		return backend.Object{}, fmt.Errorf("update %q: %w", p, ErrNotExist)
	}
	return b.putLocked(p, contents, cfg), nil
}

func (b *Backend) UpdateStream(ctx context.Context, p string, r io.Reader, cfg backend.Config) (backend.Object, error) {
	contents, err := io.ReadAll(r)
	if err != nil {
		return backend.Object{}, err
	}
	return b.Update(ctx, p, contents, cfg)
}

func (b *Backend) putLocked(p string, contents []byte, cfg backend.Config) backend.Object {
	mt := cfg.Mimetype
	if mt == "" {
		mt = detectMimetype(p, contents)
	}
	vis := cfg.Visibility
	if vis == "" {
		if f, ok := b.files[p]; ok {
			vis = f.visibility
		} else {
			vis = backend.VisibilityPublic
		}
	}
	b.files[p] = &file{
		contents:   append([]byte(nil), contents...),
		mimetype:   mt,
		timestamp:  b.now(),
		visibility: vis,
	}
	b.ensureDirsLocked(p)
	obj := b.descriptorLocked(p)
	obj.Contents = append([]byte(nil), contents...)
	return obj
}

func (b *Backend) Read(_ context.Context, p string) (backend.Object, error) {
	p = pathutil.Normalize(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.files[p]
	if !ok {
		if b.existsLocked(p) {
			return backend.Object{}, fmt.Errorf("read %q: %w", p, ErrNotFile)
		}
		return backend.Object{}, fmt.Errorf("read %q: %w", p, ErrNotExist)
	}
	obj := b.descriptorLocked(p)
	obj.Contents = append([]byte(nil), f.contents...)
	return obj, nil
}

func (b *Backend) ReadStream(ctx context.Context, p string) (backend.Object, io.ReadCloser, error) {
	obj, err := b.Read(ctx, p)
	if err != nil {
		return backend.Object{}, nil, err
	}
	rc := io.NopCloser(bytes.NewReader(obj.Contents))
	obj.Contents = nil
	return obj, rc, nil
}

func (b *Backend) Rename(_ context.Context, from, to string) error {
	from = pathutil.Normalize(from)
	to = pathutil.Normalize(to)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existsLocked(to) {
		return fmt.Errorf("rename to %q: %w", to, ErrExist)
	}
	if f, ok := b.files[from]; ok {
		delete(b.files, from)
		b.files[to] = f
		b.ensureDirsLocked(to)
		return nil
	}
	if d, ok := b.dirs[from]; ok {
		delete(b.dirs, from)
		b.dirs[to] = d
		for p, f := range b.files {
			if pathutil.IsDescendant(from, p) {
				delete(b.files, p)
				b.files[to+p[len(from):]] = f
			}
		}
		for p, sd := range b.dirs {
			if pathutil.IsDescendant(from, p) {
				delete(b.dirs, p)
				b.dirs[to+p[len(from):]] = sd
			}
		}
		b.ensureDirsLocked(to)
		return nil
	}
	return fmt.Errorf("rename %q: %w", from, ErrNotExist)
}

func (b *Backend) Delete(_ context.Context, p string) error {
	p = pathutil.Normalize(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		if b.existsLocked(p) {
			return fmt.Errorf("delete %q: %w", p, ErrNotFile)
		}
		return fmt.Errorf("delete %q: %w", p, ErrNotExist)
	}
	delete(b.files, p)
	return nil
}

func (b *Backend) DeleteDir(_ context.Context, d string) error {
	d = pathutil.Normalize(d)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.dirs[d]; !ok && d != pathutil.Root {
		if b.existsLocked(d) {
			return fmt.Errorf("deleteDir %q: %w", d, ErrNotDir)
		}
		return fmt.Errorf("deleteDir %q: %w", d, ErrNotExist)
	}
	delete(b.dirs, d)
	for p := range b.files {
		if pathutil.IsDescendant(d, p) {
			delete(b.files, p)
		}
	}
	for p := range b.dirs {
		if pathutil.IsDescendant(d, p) {
			delete(b.dirs, p)
		}
	}
	return nil
}

func (b *Backend) CreateDir(_ context.Context, d string, cfg backend.Config) (backend.Object, error) {
	d = pathutil.Normalize(d)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existsLocked(d) {
		return backend.Object{}, fmt.Errorf("createDir %q: %w", d, ErrExist)
	}
	vis := cfg.Visibility
	if vis == "" {
		vis = backend.VisibilityPublic
	}
	b.dirs[d] = &dir{timestamp: b.now(), visibility: vis}
	b.ensureDirsLocked(d)
	return b.descriptorLocked(d), nil
}

func (b *Backend) ListContents(_ context.Context, d string, recursive bool) ([]backend.Object, error) {
	d = pathutil.Normalize(d)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if d != pathutil.Root {
		if _, ok := b.dirs[d]; !ok {
			return nil, fmt.Errorf("listContents %q: %w", d, ErrNotExist)
		}
	}
	var out []backend.Object
	include := func(p string) bool {
		if recursive {
			return pathutil.IsDescendant(d, p)
		}
		return pathutil.IsChild(d, p)
	}
	for p := range b.files {
		if include(p) {
			out = append(out, b.descriptorLocked(p))
		}
	}
	for p := range b.dirs {
		if include(p) {
			out = append(out, b.descriptorLocked(p))
		}
	}
	return out, nil
}

func (b *Backend) Metadata(_ context.Context, p string) (backend.Object, error) {
	p = pathutil.Normalize(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.existsLocked(p) || p == pathutil.Root {
		if p == pathutil.Root {
			return backend.Object{Path: p, Kind: backend.KindDirectory, Timestamp: backend.Time(b.now())}, nil
		}
		return backend.Object{}, fmt.Errorf("metadata %q: %w", p, ErrNotExist)
	}
	return b.descriptorLocked(p), nil
}

func (b *Backend) Mimetype(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) Timestamp(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) Visibility(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) Size(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) SetVisibility(_ context.Context, p, visibility string) (backend.Object, error) {
	p = pathutil.Normalize(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.files[p]; ok {
		f.visibility = visibility
		return b.descriptorLocked(p), nil
	}
	if d, ok := b.dirs[p]; ok {
		d.visibility = visibility
		return b.descriptorLocked(p), nil
	}
	return backend.Object{}, fmt.Errorf("setVisibility %q: %w", p, ErrNotExist)
}
