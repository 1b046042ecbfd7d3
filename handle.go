package flysystem

import (
	"context"
	"io"

	"github.com/kmhrussell/Flysystem/backend"
	"github.com/kmhrussell/Flysystem/internal/pathutil"
)

// Handle is a path bound to one facade instance. Concrete handles (*File,
// *Directory) merely delegate back into the facade; they hold no state
// beyond the path.
type Handle interface {
	Path() string
	Kind() Kind
	Delete(ctx context.Context) error
	Rename(ctx context.Context, to string) error
}

type handle struct {
	fs   *Filesystem
	path string
}

func (h *handle) Path() string { return h.path }

func (h *handle) Rename(ctx context.Context, to string) error {
	to = pathutil.Normalize(to)
	if err := h.fs.Rename(ctx, h.path, to); err != nil {
		return err
	}
	h.path = to
	return nil
}

// File is a handle to a single file.
type File struct {
	handle
}

func (*File) Kind() Kind { return KindFile }

func (h *File) Read(ctx context.Context) ([]byte, error) {
	return h.fs.Read(ctx, h.path)
}

func (h *File) ReadStream(ctx context.Context) (io.ReadCloser, error) {
	return h.fs.ReadStream(ctx, h.path)
}

func (h *File) Update(ctx context.Context, contents []byte, cfg Config) error {
	return h.fs.Update(ctx, h.path, contents, cfg)
}

func (h *File) Delete(ctx context.Context) error {
	return h.fs.Delete(ctx, h.path)
}

func (h *File) Size(ctx context.Context) (int64, error) {
	return h.fs.Size(ctx, h.path)
}

// Directory is a handle to a single directory.
type Directory struct {
	handle
}

func (*Directory) Kind() Kind { return KindDirectory }

func (h *Directory) List(ctx context.Context, recursive bool) ([]Object, error) {
	return h.fs.ListContents(ctx, h.path, recursive)
}

func (h *Directory) Delete(ctx context.Context) error {
	return h.fs.DeleteDir(ctx, h.path)
}

// Resolve binds a handle to path. When kind is omitted it is determined from
// cached or fetched metadata, which requires the path to exist; with an
// explicit kind no lookup happens.
func (f *Filesystem) Resolve(ctx context.Context, path string, kind ...Kind) (Handle, error) {
	path = pathutil.Normalize(path)

	k := backend.KindUnknown
	if len(kind) > 0 {
		k = kind[0]
	} else {
		obj, err := f.Metadata(ctx, path)
		if err != nil {
			return nil, err
		}
		k = obj.Kind
	}

	base := handle{fs: f, path: path}
	if k == backend.KindDirectory {
		return &Directory{handle: base}, nil
	}
	return &File{handle: base}, nil
}
