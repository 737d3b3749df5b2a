package imaging

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// exceedsEdge reports whether a w×h image is larger than maxEdge on either side.
func exceedsEdge(w, h, maxEdge int) bool {
	return maxEdge > 0 && (w > maxEdge || h > maxEdge)
}

// encode optionally downscales img and encodes it. JPEG sources stay JPEG;
// everything else becomes PNG.
func encode(img image.Image, sourceFormat string, opts Options) (*EncodedImage, error) {
	bounds := img.Bounds()
	if exceedsEdge(bounds.Dx(), bounds.Dy(), opts.MaxEdge) {
		img = imaging.Fit(img, opts.MaxEdge, opts.MaxEdge, imaging.Lanczos)
	}

	format, mediaType := imaging.PNG, "image/png"
	if sourceFormat == "jpeg" {
		format, mediaType = imaging.JPEG, "image/jpeg"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	out := img.Bounds()
	return &EncodedImage{
		Data:      buf.Bytes(),
		MediaType: mediaType,
		Width:     out.Dx(),
		Height:    out.Dy(),
	}, nil
}
