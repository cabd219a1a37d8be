// Package objectdocs serves the docs tree from an S3 compatible bucket.
// Object keys under a prefix become file paths; directories are implied.
package objectdocs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wikiportal/api/internal/docs"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

type object struct {
	Key  string
	ETag string
}

// source is the slice of the S3 API the host needs.
type source interface {
	list(ctx context.Context, prefix string) ([]object, error)
	read(ctx context.Context, key string) (content []byte, etag string, err error)
}

type Host struct {
	src    source
	prefix string
}

// New connects to the bucket and checks that it exists.
func New(ctx context.Context, cfg Config) (*Host, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check docs bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("docs bucket %s does not exist", cfg.Bucket)
	}
	return newHost(&minioSource{client: client, bucket: cfg.Bucket}, cfg.Prefix), nil
}

func newHost(src source, prefix string) *Host {
	prefix = docs.CleanPath(prefix)
	if prefix != "" {
		prefix += "/"
	}
	return &Host{src: src, prefix: prefix}
}

func (h *Host) Tree(ctx context.Context) (docs.FileNode, error) {
	objects, err := h.src.list(ctx, h.prefix)
	if err != nil {
		return docs.FileNode{}, fmt.Errorf("list docs objects: %w", err)
	}
	leaves := make([]docs.Leaf, 0, len(objects))
	for _, obj := range objects {
		// zero-byte "dir/" markers created by some S3 consoles
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, h.prefix)
		leaves = append(leaves, docs.Leaf{Path: rel, SHA: obj.ETag})
	}
	return docs.BuildTree(leaves), nil
}

func (h *Host) File(ctx context.Context, p string) (docs.FileContent, error) {
	clean := docs.CleanPath(p)
	if clean == "" {
		return docs.FileContent{}, fmt.Errorf("file %q: %w", p, docs.ErrNotFound)
	}
	content, etag, err := h.src.read(ctx, h.prefix+clean)
	if err != nil {
		return docs.FileContent{}, fmt.Errorf("read %s: %w", clean, err)
	}
	return docs.FileContent{Path: clean, Content: string(content), SHA: etag}, nil
}

type minioSource struct {
	client *minio.Client
	bucket string
}

func (s *minioSource) list(ctx context.Context, prefix string) ([]object, error) {
	objects := make([]object, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		objects = append(objects, object{Key: info.Key, ETag: info.ETag})
	}
	return objects, nil
}

func (s *minioSource) read(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapError(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", mapError(err)
	}
	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", mapError(err)
	}
	return content, info.ETag, nil
}

// mapError turns a missing object into docs.ErrNotFound. A missing bucket
// stays an upstream failure.
func mapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || (resp.Code == "" && resp.StatusCode == http.StatusNotFound) {
		return fmt.Errorf("%s: %w", resp.Key, docs.ErrNotFound)
	}
	return err
}
