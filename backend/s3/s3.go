// Package s3 implements backend.Backend on an S3 bucket (optionally under a
// key prefix). Directories are the usual S3 fiction: zero-byte marker
// objects with a trailing slash plus whatever common prefixes a listing
// reveals. Visibility maps to canned object ACLs.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kmhrussell/Flysystem/backend"
	"github.com/kmhrussell/Flysystem/internal/pathutil"
)

// Client is the subset of the S3 API the backend uses. *s3.Client satisfies
// it; tests can substitute a fake.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectAcl(ctx context.Context, in *s3.GetObjectAclInput, opts ...func(*s3.Options)) (*s3.GetObjectAclOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, opts ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

type Backend struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend using the default AWS config chain.
func New(ctx context.Context, bucket, prefix string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return NewWithClient(client, manager.NewUploader(client), bucket, prefix), nil
}

// NewWithClient creates a Backend over an existing client. uploader may be
// nil, in which case streamed writes buffer in memory.
func NewWithClient(client Client, uploader *manager.Uploader, bucket, prefix string) *Backend {
	return &Backend{client: client, uploader: uploader, bucket: bucket, prefix: prefix}
}

// key converts a normalized facade path to the bucket key.
func (b *Backend) key(p string) string {
	p = strings.TrimPrefix(pathutil.Normalize(p), "/")
	if b.prefix == "" {
		return p
	}
	return strings.TrimPrefix(path.Join(b.prefix, p), "/")
}

func (b *Backend) dirMarker(p string) string { return b.key(p) + "/" }

// pathOf reverses key: bucket key back to facade path.
func (b *Backend) pathOf(key string) string {
	key = strings.TrimSuffix(key, "/")
	if b.prefix != "" {
		key = strings.TrimPrefix(key, b.prefix)
	}
	return pathutil.Normalize(key)
}

func acl(visibility string) types.ObjectCannedACL {
	if visibility == backend.VisibilityPublic {
		return types.ObjectCannedACLPublicRead
	}
	return types.ObjectCannedACLPrivate
}

func (b *Backend) Has(ctx context.Context, p string) (bool, error) {
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	}); err == nil {
		return true, nil
	}
	// maybe a directory: marker object or any key under the prefix
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.dirMarker(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("has %q: %w", p, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (b *Backend) put(ctx context.Context, p string, body io.Reader, length *int64, cfg backend.Config) (backend.Object, error) {
	key := b.key(p)
	mt := cfg.Mimetype
	if mt == "" {
		mt = mime.TypeByExtension(path.Ext(p))
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    acl(cfg.Visibility),
	}
	if mt != "" {
		in.ContentType = aws.String(mt)
	}

	if b.uploader != nil {
		if _, err := b.uploader.Upload(ctx, in); err != nil {
			return backend.Object{}, err
		}
	} else {
		if _, err := b.client.PutObject(ctx, in); err != nil {
			return backend.Object{}, err
		}
	}

	vis := cfg.Visibility
	if vis == "" {
		vis = backend.VisibilityPrivate
	}
	obj := backend.Object{
		Path:       pathutil.Normalize(p),
		Kind:       backend.KindFile,
		Timestamp:  backend.Time(time.Now().UTC()),
		Visibility: backend.String(vis),
	}
	if mt != "" {
		obj.Mimetype = backend.String(mt)
	}
	if length != nil {
		obj.Size = length
	}
	return obj, nil
}

func (b *Backend) Write(ctx context.Context, p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	if ok, err := b.Has(ctx, p); err != nil {
		return backend.Object{}, err
	} else if ok {
		return backend.Object{}, fmt.Errorf("write %q: key already exists", p)
	}
	obj, err := b.put(ctx, p, bytes.NewReader(contents), backend.Int64(int64(len(contents))), cfg)
	if err != nil {
		return backend.Object{}, err
	}
	obj.Contents = append([]byte(nil), contents...)
	return obj, nil
}

func (b *Backend) WriteStream(ctx context.Context, p string, r io.Reader, cfg backend.Config) (backend.Object, error) {
	if ok, err := b.Has(ctx, p); err != nil {
		return backend.Object{}, err
	} else if ok {
		return backend.Object{}, fmt.Errorf("write %q: key already exists", p)
	}
	return b.put(ctx, p, r, nil, cfg)
}

func (b *Backend) Update(ctx context.Context, p string, contents []byte, cfg backend.Config) (backend.Object, error) {
	if ok, err := b.Has(ctx, p); err != nil {
		return backend.Object{}, err
	} else if !ok {
		return backend.Object{}, fmt.Errorf("update %q: key does not exist", p)
	}
	obj, err := b.put(ctx, p, bytes.NewReader(contents), backend.Int64(int64(len(contents))), cfg)
	if err != nil {
		return backend.Object{}, err
	}
	obj.Contents = append([]byte(nil), contents...)
	return obj, nil
}

func (b *Backend) UpdateStream(ctx context.Context, p string, r io.Reader, cfg backend.Config) (backend.Object, error) {
	if ok, err := b.Has(ctx, p); err != nil {
		return backend.Object{}, err
	} else if !ok {
		return backend.Object{}, fmt.Errorf("update %q: key does not exist", p)
	}
	return b.put(ctx, p, r, nil, cfg)
}

func (b *Backend) getDescriptor(p string, out *s3.GetObjectOutput) backend.Object {
	obj := backend.Object{
		Path: pathutil.Normalize(p),
		Kind: backend.KindFile,
	}
	if out.ContentLength != nil {
		obj.Size = backend.Int64(*out.ContentLength)
	}
	if out.ContentType != nil {
		obj.Mimetype = backend.String(*out.ContentType)
	}
	if out.LastModified != nil {
		obj.Timestamp = backend.Time(*out.LastModified)
	}
	return obj
}

func (b *Backend) Read(ctx context.Context, p string) (backend.Object, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return backend.Object{}, fmt.Errorf("read %q: %w", p, err)
	}
	defer out.Body.Close()
	contents, err := io.ReadAll(out.Body)
	if err != nil {
		return backend.Object{}, fmt.Errorf("read %q: %w", p, err)
	}
	obj := b.getDescriptor(p, out)
	obj.Contents = contents
	return obj, nil
}

func (b *Backend) ReadStream(ctx context.Context, p string) (backend.Object, io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return backend.Object{}, nil, fmt.Errorf("readStream %q: %w", p, err)
	}
	return b.getDescriptor(p, out), out.Body, nil
}

// listAllKeys collects every key under prefix, paging through continuation
// tokens.
func (b *Backend) listAllKeys(ctx context.Context, prefix string) ([]types.Object, error) {
	var objs []types.Object
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		objs = append(objs, out.Contents...)
		if out.IsTruncated != nil && *out.IsTruncated {
			token = out.NextContinuationToken
		} else {
			return objs, nil
		}
	}
}

func (b *Backend) copyKey(ctx context.Context, fromKey, toKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + fromKey),
		Key:        aws.String(toKey),
	})
	return err
}

func (b *Backend) deleteKey(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (b *Backend) Rename(ctx context.Context, from, to string) error {
	fromKey, toKey := b.key(from), b.key(to)

	// plain object first
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fromKey),
	}); err == nil {
		if err := b.copyKey(ctx, fromKey, toKey); err != nil {
			return fmt.Errorf("rename %q: %w", from, err)
		}
		return b.deleteKey(ctx, fromKey)
	}

	// directory: move every key under the prefix
	objs, err := b.listAllKeys(ctx, fromKey+"/")
	if err != nil {
		return fmt.Errorf("rename %q: %w", from, err)
	}
	if len(objs) == 0 {
		return fmt.Errorf("rename %q: key does not exist", from)
	}
	for _, o := range objs {
		src := aws.ToString(o.Key)
		dst := toKey + "/" + strings.TrimPrefix(src, fromKey+"/")
		if err := b.copyKey(ctx, src, dst); err != nil {
			return fmt.Errorf("rename %q: %w", from, err)
		}
		if err := b.deleteKey(ctx, src); err != nil {
			return fmt.Errorf("rename %q: %w", from, err)
		}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, p string) error {
	key := b.key(p)
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %q: %w", p, err)
	}
	return b.deleteKey(ctx, key)
}

func (b *Backend) DeleteDir(ctx context.Context, dir string) error {
	objs, err := b.listAllKeys(ctx, b.dirMarker(dir))
	if err != nil {
		return fmt.Errorf("deleteDir %q: %w", dir, err)
	}
	for _, o := range objs {
		if err := b.deleteKey(ctx, aws.ToString(o.Key)); err != nil {
			return fmt.Errorf("deleteDir %q: %w", dir, err)
		}
	}
	// the marker itself may not have been listed if it never existed
	_ = b.deleteKey(ctx, b.dirMarker(dir))
	return nil
}

func (b *Backend) CreateDir(ctx context.Context, dir string, cfg backend.Config) (backend.Object, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.dirMarker(dir)),
		Body:   strings.NewReader(""),
		ACL:    acl(cfg.Visibility),
	})
	if err != nil {
		return backend.Object{}, fmt.Errorf("createDir %q: %w", dir, err)
	}
	return backend.Object{
		Path:      pathutil.Normalize(dir),
		Kind:      backend.KindDirectory,
		Timestamp: backend.Time(time.Now().UTC()),
	}, nil
}

func (b *Backend) ListContents(ctx context.Context, dir string, recursive bool) ([]backend.Object, error) {
	prefix := b.dirMarker(dir)
	if b.key(dir) == "" {
		prefix = ""
	}

	var out []backend.Object
	var token *string
	for {
		in := &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		}
		if !recursive {
			in.Delimiter = aws.String("/")
		}
		page, err := b.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("listContents %q: %w", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			out = append(out, backend.Object{
				Path: b.pathOf(aws.ToString(cp.Prefix)),
				Kind: backend.KindDirectory,
			})
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if key == prefix {
				continue // the listed directory's own marker
			}
			obj := backend.Object{Path: b.pathOf(key)}
			if strings.HasSuffix(key, "/") {
				obj.Kind = backend.KindDirectory
			} else {
				obj.Kind = backend.KindFile
				if o.Size != nil {
					obj.Size = backend.Int64(*o.Size)
				}
			}
			if o.LastModified != nil {
				obj.Timestamp = backend.Time(*o.LastModified)
			}
			out = append(out, obj)
		}

		if page.IsTruncated != nil && *page.IsTruncated {
			token = page.NextContinuationToken
		} else {
			return out, nil
		}
	}
}

func (b *Backend) Metadata(ctx context.Context, p string) (backend.Object, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err == nil {
		obj := backend.Object{
			Path: pathutil.Normalize(p),
			Kind: backend.KindFile,
		}
		if head.ContentLength != nil {
			obj.Size = backend.Int64(*head.ContentLength)
		}
		if head.ContentType != nil {
			obj.Mimetype = backend.String(*head.ContentType)
		}
		if head.LastModified != nil {
			obj.Timestamp = backend.Time(*head.LastModified)
		}
		return obj, nil
	}

	ok, herr := b.Has(ctx, p)
	if herr != nil {
		return backend.Object{}, herr
	}
	if !ok {
		return backend.Object{}, fmt.Errorf("metadata %q: key does not exist", p)
	}
	return backend.Object{
		Path:      pathutil.Normalize(p),
		Kind:      backend.KindDirectory,
		Timestamp: backend.Time(time.Now().UTC()),
	}, nil
}

func (b *Backend) Mimetype(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) Timestamp(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) Size(ctx context.Context, p string) (backend.Object, error) {
	return b.Metadata(ctx, p)
}

func (b *Backend) Visibility(ctx context.Context, p string) (backend.Object, error) {
	out, err := b.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return backend.Object{}, fmt.Errorf("visibility %q: %w", p, err)
	}
	vis := backend.VisibilityPrivate
	for _, g := range out.Grants {
		if g.Grantee != nil && g.Grantee.URI != nil &&
			strings.HasSuffix(*g.Grantee.URI, "/global/AllUsers") &&
			g.Permission == types.PermissionRead {
			vis = backend.VisibilityPublic
			break
		}
	}
	return backend.Object{
		Path:       pathutil.Normalize(p),
		Kind:       backend.KindFile,
		Visibility: backend.String(vis),
	}, nil
}

func (b *Backend) SetVisibility(ctx context.Context, p, visibility string) (backend.Object, error) {
	_, err := b.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
		ACL:    acl(visibility),
	})
	if err != nil {
		return backend.Object{}, fmt.Errorf("setVisibility %q: %w", p, err)
	}
	return backend.Object{
		Path:       pathutil.Normalize(p),
		Kind:       backend.KindFile,
		Visibility: backend.String(visibility),
	}, nil
}
