package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

var (
	// ErrNotFound indicates the referenced image file does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrUnsupportedFormat indicates the file exists but is not a decodable image.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// mediaTypes maps image.Decode format names to the media type sent upstream.
var mediaTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// passthroughFormats are sent as-is; anything else is re-encoded as PNG.
var passthroughFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
}

// EncodedImage is image content ready to embed in a chat request.
//
// An EncodedImage lives for a single tool invocation: it is built from a file
// or a screen capture, rendered into the outbound payload, and then dropped.
type EncodedImage struct {
	// Data holds the encoded bytes in the format named by MediaType.
	Data []byte

	// MediaType is the declared content type, e.g. "image/png".
	MediaType string

	// Width and Height are the pixel dimensions of Data.
	Width  int
	Height int

	// Source is the resolved file path, or "screen" for captures.
	Source string
}

// DataURI renders the image as a base64 data URI.
func (e *EncodedImage) DataURI() string {
	return "data:" + e.MediaType + ";base64," + base64.StdEncoding.EncodeToString(e.Data)
}

// Options controls how images are prepared for upload.
type Options struct {
	// MaxEdge downscales images whose longer side exceeds it, keeping the
	// aspect ratio. Zero leaves dimensions untouched.
	MaxEdge int
}

// LoadFile reads an image from disk and prepares it for upload.
//
// Parameters:
//   - path: Absolute, relative, or "~/"-prefixed path to the image file.
//   - opts: Preparation options.
//
// Returns:
//   - *EncodedImage: The image bytes with their media type. PNG, JPEG, GIF and
//     WebP are passed through unchanged unless downscaled; BMP and TIFF are
//     converted to PNG.
//   - error: ErrNotFound if the path does not name a regular file,
//     ErrUnsupportedFormat if the content is not a decodable image.
//
// The format is detected from the file content, not its extension.
func LoadFile(path string, opts Options) (*EncodedImage, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, resolved)
		}
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	enc, err := fromBytes(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resolved, err)
	}
	enc.Source = resolved
	return enc, nil
}

// ResolvePath expands a leading "~/" and makes the path absolute.
func ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return abs, nil
}

// fromBytes validates encoded image data and applies Options.
//
// The whole image is decoded even when the original bytes are sent, so a file
// with a valid header but truncated or corrupt pixel data is rejected here.
func fromBytes(data []byte, opts Options) (*EncodedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	bounds := img.Bounds()
	if passthroughFormats[format] && !exceedsEdge(bounds.Dx(), bounds.Dy(), opts.MaxEdge) {
		return &EncodedImage{
			Data:      data,
			MediaType: mediaTypes[format],
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
		}, nil
	}
	return encode(img, format, opts)
}

// FromImage encodes an in-memory image, such as a screen capture, as PNG.
func FromImage(img image.Image, opts Options) (*EncodedImage, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrUnsupportedFormat)
	}
	return encode(img, "png", opts)
}
