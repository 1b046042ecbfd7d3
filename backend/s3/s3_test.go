package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kmhrussell/Flysystem/backend"
)

var errNoSuchKey = errors.New("NoSuchKey")

// fakeClient is an in-memory bucket implementing the Client subset.
type fakeClient struct {
	objects map[string][]byte
	public  map[string]bool
}

var _ Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte), public: make(map[string]bool)}
}

func (c *fakeClient) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	b, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	b, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(b))),
		ContentLength: aws.Int64(int64(len(b))),
	}, nil
}

func (c *fakeClient) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	var b []byte
	if in.Body != nil {
		var err error
		b, err = io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
	}
	key := aws.ToString(in.Key)
	c.objects[key] = b
	c.public[key] = in.ACL == types.ObjectCannedACLPublicRead
	return &awss3.PutObjectOutput{}, nil
}

func (c *fakeClient) CopyObject(_ context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	src := aws.ToString(in.CopySource)
	if i := strings.Index(src, "/"); i >= 0 {
		src = src[i+1:]
	}
	b, ok := c.objects[src]
	if !ok {
		return nil, errNoSuchKey
	}
	c.objects[aws.ToString(in.Key)] = append([]byte(nil), b...)
	return &awss3.CopyObjectOutput{}, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	delete(c.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seenPrefixes := map[string]bool{}
	for _, k := range keys {
		if delim != "" {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(c.objects[k]))),
		})
	}
	if in.MaxKeys != nil {
		limit := int(aws.ToInt32(in.MaxKeys))
		if len(out.Contents) > limit {
			out.Contents = out.Contents[:limit]
		}
	}
	return out, nil
}

func (c *fakeClient) GetObjectAcl(_ context.Context, in *awss3.GetObjectAclInput, _ ...func(*awss3.Options)) (*awss3.GetObjectAclOutput, error) {
	key := aws.ToString(in.Key)
	if _, ok := c.objects[key]; !ok {
		return nil, errNoSuchKey
	}
	out := &awss3.GetObjectAclOutput{}
	if c.public[key] {
		out.Grants = []types.Grant{{
			Grantee:    &types.Grantee{URI: aws.String("http://acs.amazonaws.com/groups/global/AllUsers")},
			Permission: types.PermissionRead,
		}}
	}
	return out, nil
}

func (c *fakeClient) PutObjectAcl(_ context.Context, in *awss3.PutObjectAclInput, _ ...func(*awss3.Options)) (*awss3.PutObjectAclOutput, error) {
	key := aws.ToString(in.Key)
	if _, ok := c.objects[key]; !ok {
		return nil, errNoSuchKey
	}
	c.public[key] = in.ACL == types.ObjectCannedACLPublicRead
	return &awss3.PutObjectAclOutput{}, nil
}

func newTestBackend(prefix string) (*Backend, *fakeClient) {
	c := newFakeClient()
	return NewWithClient(c, nil, "bucket", prefix), c
}

func TestKeyMapping(t *testing.T) {
	b, _ := newTestBackend("data/v1")

	if got := b.key("/a/b.txt"); got != "data/v1/a/b.txt" {
		t.Fatalf("key: %q", got)
	}
	if got := b.pathOf("data/v1/a/b.txt"); got != "/a/b.txt" {
		t.Fatalf("pathOf: %q", got)
	}
	if got := b.dirMarker("/a"); got != "data/v1/a/" {
		t.Fatalf("dirMarker: %q", got)
	}

	noPrefix, _ := newTestBackend("")
	if got := noPrefix.key("/a"); got != "a" {
		t.Fatalf("key without prefix: %q", got)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("pre")

	obj, err := b.Write(ctx, "/f.txt", []byte("hello"), backend.Config{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if obj.Kind != backend.KindFile || *obj.Size != 5 {
		t.Fatalf("descriptor: %+v", obj)
	}
	if _, ok := client.objects["pre/f.txt"]; !ok {
		t.Fatal("object should land under the prefix")
	}

	got, err := b.Read(ctx, "/f.txt")
	if err != nil || string(got.Contents) != "hello" {
		t.Fatalf("Read: %q err=%v", got.Contents, err)
	}

	if _, err := b.Write(ctx, "/f.txt", []byte("again"), backend.Config{}); err == nil {
		t.Fatal("second write should fail")
	}
}

func TestHasProbesDirectoryPrefix(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("")

	client.objects["dir/nested.txt"] = []byte("x")

	if ok, err := b.Has(ctx, "/dir"); err != nil || !ok {
		t.Fatalf("implicit directory: ok=%v err=%v", ok, err)
	}
	if ok, _ := b.Has(ctx, "/absent"); ok {
		t.Fatal("missing path reported present")
	}
}

func TestRenameObject(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("")

	client.objects["a.txt"] = []byte("x")
	if err := b.Rename(ctx, "/a.txt", "/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, ok := client.objects["a.txt"]; ok {
		t.Fatal("source key should be gone")
	}
	if string(client.objects["b.txt"]) != "x" {
		t.Fatal("target key missing")
	}
}

func TestRenameDirectorySweepsPrefix(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("")

	client.objects["old/a.txt"] = []byte("1")
	client.objects["old/sub/b.txt"] = []byte("2")

	if err := b.Rename(ctx, "/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if string(client.objects["new/a.txt"]) != "1" || string(client.objects["new/sub/b.txt"]) != "2" {
		t.Fatalf("sweep result: %v", client.objects)
	}
	for k := range client.objects {
		if strings.HasPrefix(k, "old/") {
			t.Fatalf("stale source key %q", k)
		}
	}

	if err := b.Rename(ctx, "/missing", "/x"); err == nil {
		t.Fatal("renaming a missing path should fail")
	}
}

func TestListContents(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("")

	client.objects["d/"] = nil
	client.objects["d/a.txt"] = []byte("a")
	client.objects["d/sub/b.txt"] = []byte("b")

	shallow, err := b.ListContents(ctx, "/d", false)
	if err != nil {
		t.Fatalf("ListContents: %v", err)
	}
	var paths []string
	for _, o := range shallow {
		paths = append(paths, o.Path)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "/d/a.txt" || paths[1] != "/d/sub" {
		t.Fatalf("shallow: %v", paths)
	}

	deep, err := b.ListContents(ctx, "/d", true)
	if err != nil {
		t.Fatalf("ListContents recursive: %v", err)
	}
	if len(deep) != 2 {
		t.Fatalf("recursive should skip the marker, got %d entries", len(deep))
	}
}

func TestDeleteDirSweepsPrefix(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("")

	client.objects["d/"] = nil
	client.objects["d/a.txt"] = []byte("a")

	if err := b.DeleteDir(ctx, "/d"); err != nil {
		t.Fatalf("DeleteDir: %v", err)
	}
	if len(client.objects) != 0 {
		t.Fatalf("bucket should be empty, got %v", client.objects)
	}
}

func TestVisibilityFromACL(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend("")

	client.objects["pub.txt"] = []byte("x")
	client.public["pub.txt"] = true
	client.objects["priv.txt"] = []byte("x")

	obj, err := b.Visibility(ctx, "/pub.txt")
	if err != nil || *obj.Visibility != backend.VisibilityPublic {
		t.Fatalf("public: %+v err=%v", obj, err)
	}
	obj, err = b.Visibility(ctx, "/priv.txt")
	if err != nil || *obj.Visibility != backend.VisibilityPrivate {
		t.Fatalf("private: %+v err=%v", obj, err)
	}

	if _, err := b.SetVisibility(ctx, "/priv.txt", backend.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	if !client.public["priv.txt"] {
		t.Fatal("ACL should be updated")
	}
}
