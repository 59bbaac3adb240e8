package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/glowlink-io/glowlink/pkg/options"
)

// s3Source loads firmware images from an S3-compatible object store.
type s3Source struct {
	client     *minio.Client
	bucketName string
}

// NewS3Source returns a Source resolving references as object keys in the
// configured bucket.
func NewS3Source(opts *options.S3Options) (Source, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &s3Source{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

func (s *s3Source) Load(ctx context.Context, ref string) (*Image, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch image object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read image object: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image object %s/%s is empty", s.bucketName, ref)
	}

	return &Image{
		Name:   fmt.Sprintf("s3://%s/%s", s.bucketName, ref),
		Data:   data,
		Digest: sha256.Sum256(data),
	}, nil
}
