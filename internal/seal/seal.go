// Package seal turns a raw document into a sealed artifact: a provenance banner
// (diagonal and footer), a scannable verification marker and a branded
// verification card. Sealing is a pure transform; the only input it reads
// besides its arguments is the embedded branding asset.
package seal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsealableInput means the raw bytes are not a document the renderer supports.
	ErrUnsealableInput = errors.New("unsealable input")
	// ErrRenderingFailed means an embedding step failed. No partial output is returned.
	ErrRenderingFailed = errors.New("seal rendering failed")
)

// Layout is everything a renderer needs to stamp onto a document.
type Layout struct {
	// Banner is stamped diagonally across each page.
	Banner string
	// Footer is a single-line rendition of the banner along the page bottom.
	Footer string
	// Card is the PNG verification card (logo and marker).
	Card []byte
	// CardCaption is printed under the card.
	CardCaption string
}

// Renderer applies a Layout to raw document bytes.
type Renderer interface {
	Validate(doc []byte) error
	Stamp(doc []byte, layout Layout) ([]byte, error)
}

// Generator seals documents. It is safe for concurrent use.
type Generator struct {
	renderer   Renderer
	logo       []byte
	markerSize int
	caption    string
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogo replaces the embedded branding logo (PNG).
func WithLogo(png []byte) Option {
	return func(g *Generator) {
		if len(png) > 0 {
			g.logo = png
		}
	}
}

// WithCaption sets the text printed under the verification card.
func WithCaption(caption string) Option {
	return func(g *Generator) {
		g.caption = caption
	}
}

// WithMarkerSize sets the marker edge length in pixels.
func WithMarkerSize(px int) Option {
	return func(g *Generator) {
		if px > 0 {
			g.markerSize = px
		}
	}
}

func NewGenerator(renderer Renderer, opts ...Option) *Generator {
	g := &Generator{
		renderer:   renderer,
		logo:       defaultLogo,
		markerSize: 300,
		caption:    "Scan to verify on EduChain",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Seal stamps sealText and a marker encoding verificationRef onto raw.
// Identical arguments produce an identical Layout; callers embed any
// timestamp in sealText themselves.
func (g *Generator) Seal(raw []byte, sealText, verificationRef string) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrUnsealableInput)
	}
	if err := g.renderer.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealableInput, err)
	}
	layout, err := g.layout(sealText, verificationRef)
	if err != nil {
		return nil, err
	}
	sealed, err := g.renderer.Stamp(raw, layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderingFailed, err)
	}
	if len(sealed) == 0 {
		return nil, fmt.Errorf("%w: renderer returned no output", ErrRenderingFailed)
	}
	return sealed, nil
}

func (g *Generator) layout(sealText, verificationRef string) (Layout, error) {
	banner := cleanText(sealText)
	if banner == "" {
		return Layout{}, fmt.Errorf("%w: empty seal text", ErrRenderingFailed)
	}
	marker, err := encodeMarker(verificationRef, g.markerSize)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: marker: %v", ErrRenderingFailed, err)
	}
	card, err := composeCard(g.logo, marker)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: card: %v", ErrRenderingFailed, err)
	}
	return Layout{
		Banner:      banner,
		Footer:      strings.ReplaceAll(banner, "\n", " | "),
		Card:        card,
		CardCaption: g.caption,
	}, nil
}

// cleanText trims each line and drops empty ones. '%' is removed because
// stamp renderers treat it as a placeholder prefix.
func cleanText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(strings.ReplaceAll(l, "%", ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
