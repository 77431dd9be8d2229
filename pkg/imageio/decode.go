package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"image-labeler-be/pkg/oracle"
)

// DefaultMaxPixels rejects decompression bombs before a full decode.
const DefaultMaxPixels = 40_000_000

var (
	// ErrImageDecode means the upload is not a decodable raster image.
	ErrImageDecode = errors.New("image could not be decoded")
	// ErrUnsupportedFormat means the upload decoded as a format we do not accept.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrImageTooLarge means the pixel count exceeds the configured limit.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Extensions lists the file extensions accepted by the upload form.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Options tunes Decode. Zero values mean defaults.
type Options struct {
	MaxPixels int
}

// Decode validates and decodes an uploaded image. The format is sniffed
// from the content; filename is only used in error messages.
func Decode(data []byte, filename string, opts Options) (*oracle.Image, error) {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrImageDecode, displayName(filename))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, displayName(filename), err)
	}
	mime, ok := mimeByFormat[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width*cfg.Height > opts.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, displayName(filename), err)
	}

	if format == "jpeg" {
		img = applyOrientation(img, ReadOrientation(data))
	}

	b := img.Bounds()
	return &oracle.Image{
		Data:     data,
		MIMEType: mime,
		Decoded:  img,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// AllowedExtension reports whether filename carries an accepted extension.
// Uploads without an extension are allowed and left to content sniffing.
func AllowedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return true
	}
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func displayName(filename string) string {
	if filename == "" {
		return "upload"
	}
	return filepath.Base(filename)
}
