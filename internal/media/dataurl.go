// Package media encodes captured frames and serves sector media.
//
// Captured frames travel and are stored as JPEG data URLs, so a sector's
// media field is self-contained. Placeholder sectors point at remote image
// URLs instead; both kinds go through the same Cache.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
)

// JPEG qualities used by the capture step.
const (
	PhotoQuality = 0.8
	LoopQuality  = 0.45
)

const jpegDataPrefix = "data:image/jpeg;base64,"

// ErrNotDataURL is returned when a reference is not a base64 data URL.
var ErrNotDataURL = errors.New("media: not a data URL")

// EncodeJPEG renders img as a JPEG data URL. quality is in [0,1].
func EncodeJPEG(img image.Image, quality float64) (string, error) {
	q := int(quality * 100)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return "", fmt.Errorf("media: encoding jpeg: %w", err)
	}
	return jpegDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// IsDataURL reports whether ref is an inline data URL.
func IsDataURL(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

// DecodeDataURL splits a base64 data URL into its content type and bytes.
func DecodeDataURL(ref string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("media: data URL without payload")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("media: only base64 data URLs are supported")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("media: decoding data URL: %w", err)
	}
	return contentType, data, nil
}
