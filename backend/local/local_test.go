package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/kmhrussell/Flysystem/backend"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewValidatesBasePath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("missing base path should fail")
	}

	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := New(f); err == nil {
		t.Fatal("non-directory base path should fail")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	obj, err := b.Write(ctx, "/docs/readme.txt", []byte("hello"), backend.Config{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if obj.Kind != backend.KindFile || *obj.Size != 5 {
		t.Fatalf("descriptor: %+v", obj)
	}
	if !strings.HasPrefix(*obj.Mimetype, "text/plain") {
		t.Fatalf("mimetype: %q", *obj.Mimetype)
	}

	got, err := b.Read(ctx, "/docs/readme.txt")
	if err != nil || string(got.Contents) != "hello" {
		t.Fatalf("Read: %q err=%v", got.Contents, err)
	}

	// Write is create-only.
	if _, err := b.Write(ctx, "/docs/readme.txt", []byte("again"), backend.Config{}); err == nil {
		t.Fatal("second write should fail")
	}
}

func TestPathsCannotEscapeBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	b, err := New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := b.Write(ctx, "/../escape.txt", []byte("x"), backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); err != nil {
		t.Fatalf("dot segments should resolve inside the base: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(base), "escape.txt")); err == nil {
		t.Fatal("file escaped the base path")
	}
}

func TestVisibilityMapsToPermissions(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	b, err := New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := b.Write(ctx, "/secret.txt", []byte("x"), backend.Config{Visibility: backend.VisibilityPrivate}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(filepath.Join(base, "secret.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("private file mode: %v", info.Mode().Perm())
	}

	obj, err := b.Visibility(ctx, "/secret.txt")
	if err != nil || *obj.Visibility != backend.VisibilityPrivate {
		t.Fatalf("Visibility: %+v err=%v", obj, err)
	}

	if _, err := b.SetVisibility(ctx, "/secret.txt", backend.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	info, _ = os.Stat(filepath.Join(base, "secret.txt"))
	if info.Mode().Perm() != 0644 {
		t.Fatalf("public file mode: %v", info.Mode().Perm())
	}
}

func TestStreams(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if _, err := b.WriteStream(ctx, "/s.txt", strings.NewReader("streamed"), backend.Config{}); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	obj, rc, err := b.ReadStream(ctx, "/s.txt")
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	defer rc.Close()
	if *obj.Size != 8 {
		t.Fatalf("size: %d", *obj.Size)
	}
	got, err := io.ReadAll(rc)
	if err != nil || string(got) != "streamed" {
		t.Fatalf("stream: %q err=%v", got, err)
	}

	if _, err := b.UpdateStream(ctx, "/s.txt", strings.NewReader("shorter"), backend.Config{}); err != nil {
		t.Fatalf("UpdateStream: %v", err)
	}
	got2, err := b.Read(ctx, "/s.txt")
	if err != nil || string(got2.Contents) != "shorter" {
		t.Fatalf("truncate on update stream: %q err=%v", got2.Contents, err)
	}
}

func TestRenameCreatesTargetParent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if _, err := b.Write(ctx, "/a.txt", []byte("x"), backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Rename(ctx, "/a.txt", "/deep/dir/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := b.Has(ctx, "/a.txt"); ok {
		t.Fatal("source should be gone")
	}
	got, err := b.Read(ctx, "/deep/dir/b.txt")
	if err != nil || string(got.Contents) != "x" {
		t.Fatalf("target: %q err=%v", got.Contents, err)
	}
}

func TestCreateDirRefusesExisting(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if _, err := b.CreateDir(ctx, "/d", backend.Config{}); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if _, err := b.CreateDir(ctx, "/d", backend.Config{}); err == nil {
		t.Fatal("duplicate CreateDir should fail")
	}

	// A file in the way counts as existing too.
	if _, err := b.Write(ctx, "/f", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := b.CreateDir(ctx, "/f", backend.Config{}); err == nil {
		t.Fatal("CreateDir over a file should fail")
	}
}

func TestDeleteRefusesDirectory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if _, err := b.CreateDir(ctx, "/d", backend.Config{}); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := b.Delete(ctx, "/d"); err == nil {
		t.Fatal("Delete should refuse directories")
	}
	if err := b.DeleteDir(ctx, "/d"); err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
}

func TestListContents(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	for _, p := range []string{"/d/a.txt", "/d/sub/b.txt"} {
		if _, err := b.Write(ctx, p, []byte("x"), backend.Config{}); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}

	paths := func(objs []backend.Object) []string {
		var out []string
		for _, o := range objs {
			out = append(out, o.Path)
		}
		sort.Strings(out)
		return out
	}

	shallow, err := b.ListContents(ctx, "/d", false)
	if err != nil {
		t.Fatalf("ListContents: %v", err)
	}
	if got := paths(shallow); len(got) != 2 || got[0] != "/d/a.txt" || got[1] != "/d/sub" {
		t.Fatalf("shallow: %v", got)
	}

	deep, err := b.ListContents(ctx, "/d", true)
	if err != nil {
		t.Fatalf("ListContents recursive: %v", err)
	}
	if got := paths(deep); len(got) != 3 || got[2] != "/d/sub/b.txt" {
		t.Fatalf("recursive: %v", got)
	}
}

func TestContextCancellation(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Write(ctx, "/x", nil, backend.Config{}); err == nil {
		t.Fatal("cancelled context should fail")
	}
	if _, err := b.Metadata(ctx, "/x"); err == nil {
		t.Fatal("cancelled context should fail")
	}
}

func TestMimetypeSniffsWithoutExtension(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if _, err := b.Write(ctx, "/noext", []byte("<html><body>hi</body></html>"), backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	obj, err := b.Mimetype(ctx, "/noext")
	if err != nil {
		t.Fatalf("Mimetype: %v", err)
	}
	if !strings.HasPrefix(*obj.Mimetype, "text/html") {
		t.Fatalf("sniffed mimetype: %q", *obj.Mimetype)
	}
}
