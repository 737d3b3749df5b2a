package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func solidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// writeImage encodes img into dir/name using enc and returns the path.
func writeImage(t *testing.T, dir, name string, img image.Image, enc func(*os.File, image.Image) error) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, enc(f, img))
	return path
}

func encodePNG(f *os.File, img image.Image) error  { return png.Encode(f, img) }
func encodeJPEG(f *os.File, img image.Image) error { return jpeg.Encode(f, img, nil) }
func encodeBMP(f *os.File, img image.Image) error  { return bmp.Encode(f, img) }

func TestLoadFile_PNGPassthrough(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "red.png", solidImage(40, 30, color.RGBA{255, 0, 0, 255}), encodePNG)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	enc, err := LoadFile(path, Options{})
	require.NoError(t, err)

	assert.Equal(t, "image/png", enc.MediaType)
	assert.Equal(t, 40, enc.Width)
	assert.Equal(t, 30, enc.Height)
	assert.Equal(t, raw, enc.Data)
	assert.Equal(t, path, enc.Source)
}

func TestLoadFile_ContentSniffing(t *testing.T) {
	dir := t.TempDir()
	// JPEG data behind a .png extension is still reported as JPEG.
	path := writeImage(t, dir, "photo.png", solidImage(16, 16, color.White), encodeJPEG)

	enc, err := LoadFile(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", enc.MediaType)
}

func TestLoadFile_BMPConvertedToPNG(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "legacy.bmp", solidImage(12, 8, color.Black), encodeBMP)

	enc, err := LoadFile(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "image/png", enc.MediaType)

	decoded, format, err := image.Decode(bytes.NewReader(enc.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 12, decoded.Bounds().Dx())
}

func TestLoadFile_Downscale(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "big.png", solidImage(400, 200, color.RGBA{0, 0, 255, 255}), encodePNG)

	enc, err := LoadFile(path, Options{MaxEdge: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, enc.Width)
	assert.Equal(t, 50, enc.Height)
	assert.Equal(t, "image/png", enc.MediaType)

	small, err := LoadFile(path, Options{MaxEdge: 1000})
	require.NoError(t, err)
	assert.Equal(t, 400, small.Width)
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.png"), Options{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = LoadFile(t.TempDir(), Options{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = LoadFile("  ", Options{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an image"), 0o644))

	_, err := LoadFile(path, Options{})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLoadFile_TruncatedPNG(t *testing.T) {
	dir := t.TempDir()
	path := writeImage(t, dir, "cut.png", solidImage(20, 20, color.RGBA{0, 128, 255, 255}), encodePNG)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), 40)
	require.NoError(t, os.WriteFile(path, raw[:40], 0o644))

	// The header alone still parses; only the pixel data is missing.
	_, _, err = image.DecodeConfig(bytes.NewReader(raw[:40]))
	require.NoError(t, err)

	_, err = LoadFile(path, Options{})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ResolvePath("~/pics/a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pics", "a.png"), got)

	got, err = ResolvePath("rel/b.png")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestFromImage(t *testing.T) {
	enc, err := FromImage(solidImage(10, 10, color.White), Options{})
	require.NoError(t, err)
	assert.Equal(t, "image/png", enc.MediaType)
	assert.Equal(t, 10, enc.Width)

	_, err = FromImage(nil, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncodedImage_DataURI(t *testing.T) {
	enc := &EncodedImage{Data: []byte{1, 2, 3}, MediaType: "image/gif"}
	uri := enc.DataURI()

	require.True(t, strings.HasPrefix(uri, "data:image/gif;base64,"))
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/gif;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestMediaTypes_CoverPassthroughOnly(t *testing.T) {
	for format := range passthroughFormats {
		assert.Contains(t, mediaTypes, format)
	}
	assert.Len(t, mediaTypes, len(passthroughFormats))
}
