// Package source loads firmware images for the update driver. An image can
// come from a local file or from an S3-compatible object store; either way
// the caller gets the raw bytes plus their digest for display.
package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/glowlink-io/glowlink/pkg/wire"
)

// Image is a loaded firmware image.
type Image struct {
	// Name is where the image came from, for logs and progress output.
	Name string

	Data   []byte
	Digest [wire.HashSize]byte
}

// Source resolves a reference to a firmware image.
type Source interface {
	Load(ctx context.Context, ref string) (*Image, error)
}

// fileSource loads images from the local filesystem.
type fileSource struct{}

// NewFileSource returns a Source reading local files.
func NewFileSource() Source {
	return fileSource{}
}

func (fileSource) Load(ctx context.Context, ref string) (*Image, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", ref)
	}

	return &Image{
		Name:   ref,
		Data:   data,
		Digest: sha256.Sum256(data),
	}, nil
}
