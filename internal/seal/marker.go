package seal

import (
	"errors"
	"image"

	qrcode "github.com/skip2/go-qrcode"
)

// encodeMarker renders ref as a QR code with the highest error correction so
// the marker survives printing and partial occlusion by the banner.
func encodeMarker(ref string, size int) (image.Image, error) {
	if ref == "" {
		return nil, errors.New("empty verification reference")
	}
	q, err := qrcode.New(ref, qrcode.Highest)
	if err != nil {
		return nil, err
	}
	return q.Image(size), nil
}
