// Package imaging prepares local image files and screen captures for a
// vision-language model.
//
// Images are sent inline as base64 data URIs, so this package turns a path or
// an image.Image into encoded bytes plus a media type. The format is detected
// from the file content rather than its extension.
//
// # Formats
//
// PNG, JPEG, GIF and WebP files are passed through byte for byte unless they
// need resizing. BMP and TIFF are decoded and re-encoded as PNG, since the
// model server does not accept them. Anything that does not decode as an
// image is rejected with ErrUnsupportedFormat.
//
// # Resizing
//
// When Options.MaxEdge is positive, images whose longer side exceeds it are
// downscaled with a Lanczos filter, preserving aspect ratio. JPEG sources stay
// JPEG; everything else is re-encoded as PNG.
//
// # Errors
//
// LoadFile returns ErrNotFound for a missing path, a directory, or any other
// non-regular file.
package imaging
