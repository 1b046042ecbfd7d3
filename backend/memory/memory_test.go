package memory

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/kmhrussell/Flysystem/backend"
)

func fixedClock(t *testing.T, b *Backend) time.Time {
	t.Helper()
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	b.SetClock(func() time.Time { return at })
	return at
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()
	at := fixedClock(t, b)

	obj, err := b.Write(ctx, "/docs/readme.txt", []byte("hello"), backend.Config{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if obj.Kind != backend.KindFile || *obj.Size != 5 {
		t.Fatalf("descriptor mismatch: %+v", obj)
	}
	if !strings.HasPrefix(*obj.Mimetype, "text/plain") {
		t.Fatalf("mimetype: %q", *obj.Mimetype)
	}
	if !obj.Timestamp.Equal(at) {
		t.Fatalf("timestamp: %v", obj.Timestamp)
	}
	if *obj.Visibility != backend.VisibilityPublic {
		t.Fatalf("visibility: %q", *obj.Visibility)
	}

	got, err := b.Read(ctx, "/docs/readme.txt")
	if err != nil || string(got.Contents) != "hello" {
		t.Fatalf("Read: %q err=%v", got.Contents, err)
	}

	// Ancestors materialize implicitly.
	if ok, _ := b.Has(ctx, "/docs"); !ok {
		t.Fatal("parent directory should exist")
	}
}

func TestWriteRejectsExisting(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/f", []byte("1"), backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := b.Write(ctx, "/f", []byte("2"), backend.Config{}); !errors.Is(err, ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
}

func TestUpdateRejectsMissing(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Update(ctx, "/f", []byte("x"), backend.Config{}); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestUpdateKeepsVisibility(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/f", []byte("1"), backend.Config{Visibility: backend.VisibilityPrivate}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	obj, err := b.Update(ctx, "/f", []byte("22"), backend.Config{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *obj.Visibility != backend.VisibilityPrivate {
		t.Fatalf("update without a visibility should keep the old one, got %q", *obj.Visibility)
	}
	if *obj.Size != 2 {
		t.Fatalf("size: %d", *obj.Size)
	}
}

func TestStreams(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.WriteStream(ctx, "/s", strings.NewReader("streamed"), backend.Config{}); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	obj, rc, err := b.ReadStream(ctx, "/s")
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	defer rc.Close()
	if obj.Contents != nil {
		t.Fatal("stream descriptor must not carry contents")
	}
	got, err := io.ReadAll(rc)
	if err != nil || string(got) != "streamed" {
		t.Fatalf("stream: %q err=%v", got, err)
	}
}

func TestRenameFile(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/a", []byte("x"), backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Rename(ctx, "/a", "/sub/b"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := b.Has(ctx, "/a"); ok {
		t.Fatal("source should be gone")
	}
	got, err := b.Read(ctx, "/sub/b")
	if err != nil || string(got.Contents) != "x" {
		t.Fatalf("Read target: %q err=%v", got.Contents, err)
	}
	if ok, _ := b.Has(ctx, "/sub"); !ok {
		t.Fatal("target parent should materialize")
	}
}

func TestRenameDirectoryMovesDescendants(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/old/deep/f.txt", []byte("x"), backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Rename(ctx, "/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := b.Has(ctx, "/old/deep/f.txt"); ok {
		t.Fatal("old descendant should be gone")
	}
	got, err := b.Read(ctx, "/new/deep/f.txt")
	if err != nil || string(got.Contents) != "x" {
		t.Fatalf("moved descendant: %q err=%v", got.Contents, err)
	}
}

func TestRenameRejectsExistingTarget(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/a", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := b.Write(ctx, "/b", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Rename(ctx, "/a", "/b"); !errors.Is(err, ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
}

func TestDeleteKindChecks(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/d/f", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Delete(ctx, "/d"); !errors.Is(err, ErrNotFile) {
		t.Fatalf("deleting a directory as a file: %v", err)
	}
	if err := b.DeleteDir(ctx, "/d/f"); !errors.Is(err, ErrNotDir) {
		t.Fatalf("deleting a file as a directory: %v", err)
	}
	if err := b.Delete(ctx, "/absent"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("deleting a missing file: %v", err)
	}
}

func TestDeleteDirRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/d/a/f1", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := b.Write(ctx, "/d/f2", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.DeleteDir(ctx, "/d"); err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	for _, p := range []string{"/d", "/d/a", "/d/a/f1", "/d/f2"} {
		if ok, _ := b.Has(ctx, p); ok {
			t.Fatalf("%s should be gone", p)
		}
	}
}

func TestListContents(t *testing.T) {
	ctx := context.Background()
	b := New()

	for _, p := range []string{"/d/a.txt", "/d/sub/b.txt"} {
		if _, err := b.Write(ctx, p, []byte("x"), backend.Config{}); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}

	shallow, err := b.ListContents(ctx, "/d", false)
	if err != nil {
		t.Fatalf("ListContents: %v", err)
	}
	paths := func(objs []backend.Object) []string {
		var out []string
		for _, o := range objs {
			out = append(out, o.Path)
		}
		sort.Strings(out)
		return out
	}
	if got := paths(shallow); len(got) != 2 || got[0] != "/d/a.txt" || got[1] != "/d/sub" {
		t.Fatalf("shallow listing: %v", got)
	}

	deep, err := b.ListContents(ctx, "/d", true)
	if err != nil {
		t.Fatalf("ListContents recursive: %v", err)
	}
	if got := paths(deep); len(got) != 3 {
		t.Fatalf("recursive listing: %v", got)
	}

	if _, err := b.ListContents(ctx, "/absent", false); !errors.Is(err, ErrNotExist) {
		t.Fatalf("listing a missing directory: %v", err)
	}
}

func TestMetadataAndFieldAliases(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/m.bin", []byte{0x00, 0x01}, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	obj, err := b.Metadata(ctx, "/m.bin")
	if err != nil || obj.Kind != backend.KindFile || *obj.Size != 2 {
		t.Fatalf("Metadata: %+v err=%v", obj, err)
	}
	for name, fn := range map[string]func(context.Context, string) (backend.Object, error){
		"mimetype":   b.Mimetype,
		"timestamp":  b.Timestamp,
		"visibility": b.Visibility,
		"size":       b.Size,
	} {
		if _, err := fn(ctx, "/m.bin"); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	root, err := b.Metadata(ctx, "/")
	if err != nil || root.Kind != backend.KindDirectory {
		t.Fatalf("root metadata: %+v err=%v", root, err)
	}
}

func TestSetVisibility(t *testing.T) {
	ctx := context.Background()
	b := New()

	if _, err := b.Write(ctx, "/v", nil, backend.Config{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	obj, err := b.SetVisibility(ctx, "/v", backend.VisibilityPrivate)
	if err != nil || *obj.Visibility != backend.VisibilityPrivate {
		t.Fatalf("SetVisibility: %+v err=%v", obj, err)
	}
	if _, err := b.SetVisibility(ctx, "/absent", backend.VisibilityPublic); !errors.Is(err, ErrNotExist) {
		t.Fatalf("missing path: %v", err)
	}
}

func TestCreateDir(t *testing.T) {
	ctx := context.Background()
	b := New()

	obj, err := b.CreateDir(ctx, "/a/b", backend.Config{})
	if err != nil || obj.Kind != backend.KindDirectory {
		t.Fatalf("CreateDir: %+v err=%v", obj, err)
	}
	if ok, _ := b.Has(ctx, "/a"); !ok {
		t.Fatal("ancestor should materialize")
	}
	if _, err := b.CreateDir(ctx, "/a/b", backend.Config{}); !errors.Is(err, ErrExist) {
		t.Fatalf("duplicate CreateDir: %v", err)
	}
}
