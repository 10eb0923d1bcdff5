package seal

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

//go:embed assets/logo.png
var defaultLogo []byte

const (
	cardPadding = 16
	cardBorder  = 4
	logoEdge    = 72
)

var (
	brandColor = color.RGBA{R: 31, G: 78, B: 121, A: 255}
	cardColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// composeCard lays the logo above the marker on a bordered white card and
// returns it PNG-encoded.
func composeCard(logoPNG []byte, marker image.Image) ([]byte, error) {
	logo, err := png.Decode(bytes.NewReader(logoPNG))
	if err != nil {
		return nil, fmt.Errorf("decode logo: %w", err)
	}
	if marker == nil || marker.Bounds().Empty() {
		return nil, errors.New("empty marker")
	}
	mb := marker.Bounds()
	width := mb.Dx() + 2*cardPadding
	height := logoEdge + mb.Dy() + 3*cardPadding

	card := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(card, card.Bounds(), &image.Uniform{C: brandColor}, image.Point{}, xdraw.Src)
	inner := card.Bounds().Inset(cardBorder)
	xdraw.Draw(card, inner, &image.Uniform{C: cardColor}, image.Point{}, xdraw.Src)

	logoX := (width - logoEdge) / 2
	logoRect := image.Rect(logoX, cardPadding, logoX+logoEdge, cardPadding+logoEdge)
	xdraw.CatmullRom.Scale(card, logoRect, logo, logo.Bounds(), xdraw.Over, nil)

	markerOrigin := image.Pt(cardPadding, logoRect.Max.Y+cardPadding)
	xdraw.Draw(card, image.Rectangle{Min: markerOrigin, Max: markerOrigin.Add(mb.Size())}, marker, mb.Min, xdraw.Src)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, card); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}
