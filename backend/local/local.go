// Package local implements backend.Backend on a directory of the local
// filesystem. All paths are resolved under a base path; visibility maps to
// permission bits the way object-store "public"/"private" conventionally
// translate to a posix filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/kmhrussell/Flysystem/backend"
	"github.com/kmhrussell/Flysystem/internal/pathutil"
)

const (
	filePublic  = os.FileMode(0644)
	filePrivate = os.FileMode(0600)
	dirPublic   = os.FileMode(0755)
	dirPrivate  = os.FileMode(0700)
)

// Backend is rooted at basePath; callers can never escape it because every
// incoming path is normalized to an absolute slash path before joining.
type Backend struct {
	basePath string
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend rooted at basePath. The directory must exist.
func New(basePath string) (*Backend, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("local: base path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local: base path %q is not a directory", basePath)
	}
	return &Backend{basePath: basePath}, nil
}

func (b *Backend) resolve(p string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(pathutil.Normalize(p)))
}

func fileMode(visibility string) os.FileMode {
	if visibility == backend.VisibilityPrivate {
		return filePrivate
	}
	return filePublic
}

func dirMode(visibility string) os.FileMode {
	if visibility == backend.VisibilityPrivate {
		return dirPrivate
	}
	return dirPublic
}

func visibilityOf(mode os.FileMode) string {
	if mode.Perm()&0044 == 0 {
		return backend.VisibilityPrivate
	}
	return backend.VisibilityPublic
}

func (b *Backend) descriptor(p string, info fs.FileInfo) backend.Object {
	obj := backend.Object{
		Path:       pathutil.Normalize(p),
		Timestamp:  backend.Time(info.ModTime()),
		Visibility: backend.String(visibilityOf(info.Mode())),
	}
	if info.IsDir() {
		obj.Kind = backend.KindDirectory
	} else {
		obj.Kind = backend.KindFile
		obj.Size = backend.Int64(info.Size())
	}
	return obj
}

func (b *Backend) Has(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(b.resolve(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *Backend) Write(ctx context.Context, p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), dirMode(cfg.Visibility)); err != nil {
		return backend.Object{}, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode(cfg.Visibility))
	if err != nil {
		return backend.Object{}, err
	}
	_, werr := f.Write(contents)
	cerr := f.Close()
	if werr != nil {
		return backend.Object{}, werr
	}
	if cerr != nil {
		return backend.Object{}, cerr
	}
	return b.statDescriptor(p, contents, cfg)
}

func (b *Backend) WriteStream(ctx context.Context, p string, r io.Reader, cfg backend.Config) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), dirMode(cfg.Visibility)); err != nil {
		return backend.Object{}, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode(cfg.Visibility))
	if err != nil {
		return backend.Object{}, err
	}
	_, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil {
		return backend.Object{}, werr
	}
	if cerr != nil {
		return backend.Object{}, cerr
	}
	return b.statDescriptor(p, nil, cfg)
}

func (b *Backend) Update(ctx context.Context, p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(p)
	if _, err := os.Stat(full); err != nil {
		return backend.Object{}, err
	}
	if err := os.WriteFile(full, contents, fileMode(cfg.Visibility)); err != nil {
		return backend.Object{}, err
	}
	return b.statDescriptor(p, contents, cfg)
}

func (b *Backend) UpdateStream(ctx context.Context, p string, r io.Reader, cfg backend.Config) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(p)
	if _, err := os.Stat(full); err != nil {
		return backend.Object{}, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_TRUNC, fileMode(cfg.Visibility))
	if err != nil {
		return backend.Object{}, err
	}
	_, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil {
		return backend.Object{}, werr
	}
	if cerr != nil {
		return backend.Object{}, cerr
	}
	return b.statDescriptor(p, nil, cfg)
}

// statDescriptor builds the write-back descriptor from a fresh stat, filling
// mimetype from the config, the extension, or the just-written contents.
func (b *Backend) statDescriptor(p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	info, err := os.Stat(b.resolve(p))
	if err != nil {
		return backend.Object{}, err
	}
	obj := b.descriptor(p, info)
	mt := cfg.Mimetype
	if mt == "" {
		mt = detectMimetype(p, contents)
	}
	obj.Mimetype = backend.String(mt)
	if contents != nil {
		obj.Contents = append([]byte(nil), contents...)
	}
	return obj, nil
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

func (b *Backend) Read(ctx context.Context, p string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(p)
	info, err := os.Stat(full)
	if err != nil {
		return backend.Object{}, err
	}
	contents, err := os.ReadFile(full)
	if err != nil {
		return backend.Object{}, err
	}
	obj := b.descriptor(p, info)
	obj.Mimetype = backend.String(detectMimetype(p, contents))
	obj.Contents = contents
	return obj, nil
}

func (b *Backend) ReadStream(ctx context.Context, p string) (backend.Object, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, nil, err
	}
	full := b.resolve(p)
	info, err := os.Stat(full)
	if err != nil {
		return backend.Object{}, nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return backend.Object{}, nil, err
	}
	return b.descriptor(p, info), f, nil
}

func (b *Backend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := b.resolve(to)
	if err := os.MkdirAll(filepath.Dir(dst), dirPublic); err != nil {
		return err
	}
	return os.Rename(b.resolve(from), dst)
}

func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := b.resolve(p)
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("local: delete %q: is a directory", p)
	}
	return os.Remove(full)
}

func (b *Backend) DeleteDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := b.resolve(dir)
	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("local: deleteDir %q: not a directory", dir)
	}
	return os.RemoveAll(full)
}

func (b *Backend) CreateDir(ctx context.Context, dir string, cfg backend.Config) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(dir)
	if _, err := os.Stat(full); err == nil {
		return backend.Object{}, fmt.Errorf("local: createDir %q: %w", dir, fs.ErrExist)
	} else if !os.IsNotExist(err) {
		return backend.Object{}, err
	}
	if err := os.MkdirAll(full, dirMode(cfg.Visibility)); err != nil {
		return backend.Object{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return backend.Object{}, err
	}
	return b.descriptor(dir, info), nil
}

func (b *Backend) ListContents(ctx context.Context, dir string, recursive bool) ([]backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := b.resolve(dir)
	norm := pathutil.Normalize(dir)

	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		var out []backend.Object
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue // entry disappeared between ReadDir and Info
			}
			out = append(out, b.descriptor(path.Join(norm, entry.Name()), info))
		}
		return out, nil
	}

	var out []backend.Object
	err := filepath.WalkDir(root, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if fp == root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, fp)
		if err != nil {
			return err
		}
		out = append(out, b.descriptor(path.Join(norm, filepath.ToSlash(rel)), info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) Metadata(ctx context.Context, p string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	info, err := os.Stat(b.resolve(p))
	if err != nil {
		return backend.Object{}, err
	}
	return b.descriptor(p, info), nil
}

func (b *Backend) Mimetype(ctx context.Context, p string) (backend.Object, error) {
	obj, err := b.Metadata(ctx, p)
	if err != nil {
		return backend.Object{}, err
	}
	if obj.Kind == backend.KindDirectory {
		obj.Mimetype = backend.String("directory")
		return obj, nil
	}
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		obj.Mimetype = backend.String(mt)
		return obj, nil
	}
	// sniff the head of the file
	f, err := os.Open(b.resolve(p))
	if err != nil {
		return backend.Object{}, err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return backend.Object{}, err
	}
	obj.Mimetype = backend.String(http.DetectContentType(head[:n]))
	return obj, nil
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

func (b *Backend) SetVisibility(ctx context.Context, p, visibility string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}
	full := b.resolve(p)
	info, err := os.Stat(full)
	if err != nil {
		return backend.Object{}, err
	}
	mode := fileMode(visibility)
	if info.IsDir() {
		mode = dirMode(visibility)
	}
	if err := os.Chmod(full, mode); err != nil {
		return backend.Object{}, err
	}
	info, err = os.Stat(full)
	if err != nil {
		return backend.Object{}, err
	}
	obj := b.descriptor(p, info)
	obj.Visibility = backend.String(visibility)
	return obj, nil
}
