package slip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoImageData means the camera returned without producing an image.
var ErrNoImageData = errors.New("camera returned no image data")

// CapturedImage is one camera output handed to the intake pipeline. The URI
// is the capture's reference on the originating device (or its source path
// for file ingest) and is what the reference fingerprint mode hashes.
type CapturedImage struct {
	URI         string
	ContentType string
	Data        []byte
	StoredName  string // path of the server-side copy, when Storage kept one
}

// Camera produces a captured image on demand. Implementations stand in for
// the mobile camera: an upload handler, a file on disk, or a test fake.
type Camera interface {
	Capture(ctx context.Context) (*CapturedImage, error)
}

// ImageCamera wraps an image that has already been captured elsewhere, such
// as a multipart upload from the mobile client.
type ImageCamera struct {
	Image CapturedImage
}

// Capture returns the wrapped image
func (c ImageCamera) Capture(ctx context.Context) (*CapturedImage, error) {
	if len(c.Image.Data) == 0 {
		return nil, ErrNoImageData
	}
	img := c.Image
	return &img, nil
}

// FileCamera reads a capture from a file on disk, used by the hot-folder
// ingest path.
type FileCamera struct {
	Path string
}

// Capture reads the file and infers its content type from the extension
func (c FileCamera) Capture(ctx context.Context) (*CapturedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("reading capture file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoImageData
	}
	return &CapturedImage{
		URI:         c.Path,
		ContentType: ContentTypeForFilename(c.Path),
		Data:        data,
	}, nil
}

// ContentTypeForFilename maps common capture file extensions to MIME types.
func ContentTypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
