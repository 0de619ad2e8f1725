package pipeline

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/disintegration/imaging"
)

// Accepted upload media types. Everything is re-encoded to JPEG on the way
// out, which also discards EXIF and any embedded location metadata.
var allowedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

const normalizedContentType = "image/jpeg"

// validateImage checks the byte size bound and sniffs the media type from
// content, not the client-supplied header.
func validateImage(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty image", ErrValidation)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrValidation, maxBytes)
	}
	mediaType := http.DetectContentType(data)
	if !allowedMediaTypes[mediaType] {
		return fmt.Errorf("%w: unsupported media type %s", ErrValidation, mediaType)
	}
	return nil
}

// normalizeImage bounds the image to a maxDim square and re-encodes it as
// JPEG. EXIF orientation is applied during decode, so the rotation survives
// while the tag (and all other metadata) is dropped by the re-encode.
func normalizeImage(data []byte, maxDim int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode image: %v", ErrValidation, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("could not encode image: %w", err)
	}
	return buf.Bytes(), nil
}
