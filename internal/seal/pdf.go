package seal

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	bannerDesc  = "fontname:Helvetica, points:22, rotation:35, opacity:0.22, fillcolor:#7F7F7F, position:c, scalefactor:0.75 rel"
	footerDesc  = "fontname:Helvetica, points:7, rotation:0, opacity:0.85, fillcolor:#595959, position:bl, offset:24 14, scalefactor:1 abs"
	cardDesc    = "position:br, offset:-24 30, rotation:0, scalefactor:0.18 rel"
	captionDesc = "fontname:Helvetica, points:6, rotation:0, opacity:1, fillcolor:#1F4E79, position:br, offset:-28 18, scalefactor:1 abs"

	// sealDate replaces the write-time Info timestamps. Same width as
	// types.DateString output for four-digit years.
	sealDate = "D:20000101000000+00'00'"
)

var disableConfigDir sync.Once

// PDFRenderer stamps layouts onto PDF documents with pdfcpu.
//
// Output is byte-identical for identical inputs: all stamps go through a
// single read context without the optimize pass (which frees objects in map
// order), objects are written flat, and the Info timestamps and trailer file
// identifier pdfcpu derives from the wall clock are pinned afterwards.
type PDFRenderer struct {
	conf model.Configuration
}

func NewPDFRenderer() *PDFRenderer {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFRenderer{conf: *conf}
}

// config returns a per-call copy; pdfcpu writes Cmd into the configuration.
func (r *PDFRenderer) config() *model.Configuration {
	conf := r.conf
	return &conf
}

// Validate reports whether doc parses as a PDF.
func (r *PDFRenderer) Validate(doc []byte) error {
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		return fmt.Errorf("missing PDF header")
	}
	return api.Validate(bytes.NewReader(doc), r.config())
}

// Stamp applies the banner, footer, card and caption to every page.
func (r *PDFRenderer) Stamp(doc []byte, layout Layout) ([]byte, error) {
	stamps, err := watermarks(layout)
	if err != nil {
		return nil, err
	}

	conf := r.config()
	conf.Cmd = model.ADDWATERMARKS
	conf.Optimize = false
	conf.OptimizeDuplicateContentStreams = false
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false

	ctx, err := api.ReadAndValidate(bytes.NewReader(doc), conf)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	for _, wm := range stamps {
		if err := api.WatermarkContext(ctx, nil, wm); err != nil {
			return nil, fmt.Errorf("apply stamp: %w", err)
		}
	}

	var out bytes.Buffer
	if err := api.WriteContext(ctx, &out); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	return pinVolatile(ctx, out.Bytes(), fingerprint(doc, layout))
}

func watermarks(layout Layout) ([]*model.Watermark, error) {
	stamps := make([]*model.Watermark, 0, 4)

	banner, err := api.TextWatermark(layout.Banner, bannerDesc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("banner: %w", err)
	}
	stamps = append(stamps, banner)

	footer, err := api.TextWatermark(layout.Footer, footerDesc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("footer: %w", err)
	}
	stamps = append(stamps, footer)

	card, err := api.ImageWatermarkForReader(bytes.NewReader(layout.Card), cardDesc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("card: %w", err)
	}
	stamps = append(stamps, card)

	if layout.CardCaption != "" {
		caption, err := api.TextWatermark(layout.CardCaption, captionDesc, true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("caption: %w", err)
		}
		stamps = append(stamps, caption)
	}
	return stamps, nil
}

// fingerprint hashes every input that shapes the output. Fields are length
// prefixed so adjacent values cannot run together.
func fingerprint(doc []byte, layout Layout) [sha256.Size]byte {
	h := sha256.New()
	for _, part := range [][]byte{doc, []byte(layout.Banner), []byte(layout.Footer), layout.Card, []byte(layout.CardCaption)} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// pinVolatile overwrites the write-time Info timestamps and the second file
// identifier with values of equal width. Object offsets in the xref table stay
// valid because no byte moves.
func pinVolatile(ctx *model.Context, out []byte, sum [sha256.Size]byte) ([]byte, error) {
	if ctx.Info != nil {
		info, err := ctx.DereferenceDict(*ctx.Info)
		if err != nil {
			return nil, fmt.Errorf("info dict: %w", err)
		}
		if now := info.StringEntry("ModDate"); now != nil {
			if out, err = replaceSameWidth(out, types.StringLiteral(*now).String(), types.StringLiteral(sealDate).String()); err != nil {
				return nil, fmt.Errorf("pin timestamp: %w", err)
			}
		}
	}

	if len(ctx.ID) == 2 {
		if fid, ok := ctx.ID[1].(types.HexLiteral); ok && len(fid) <= 2*len(sum) {
			id := types.HexLiteral(hex.EncodeToString(sum[:len(fid)/2]))
			var err error
			if out, err = replaceSameWidth(out, fid.String(), id.String()); err != nil {
				return nil, fmt.Errorf("pin file id: %w", err)
			}
		}
	}
	return out, nil
}

func replaceSameWidth(out []byte, old, repl string) ([]byte, error) {
	if len(old) != len(repl) {
		return nil, fmt.Errorf("width mismatch: %q vs %q", old, repl)
	}
	if !bytes.Contains(out, []byte(old)) {
		return nil, fmt.Errorf("%q not found in output", old)
	}
	return bytes.ReplaceAll(out, []byte(old), []byte(repl)), nil
}

var _ Renderer = (*PDFRenderer)(nil)
