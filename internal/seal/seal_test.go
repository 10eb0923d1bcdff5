package seal

import (
	"bytes"
	"errors"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type recordingRenderer struct {
	mu          sync.Mutex
	validateErr error
	stampErr    error
	layouts     []Layout
}

func (r *recordingRenderer) Validate(_ []byte) error { return r.validateErr }

func (r *recordingRenderer) Stamp(doc []byte, layout Layout) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stampErr != nil {
		return nil, r.stampErr
	}
	r.layouts = append(r.layouts, layout)
	out := append([]byte{}, doc...)
	out = append(out, []byte(layout.Banner)...)
	return append(out, layout.Card...), nil
}

type GeneratorSuite struct {
	suite.Suite
	renderer  *recordingRenderer
	generator *Generator
}

func TestGeneratorSuite(t *testing.T) {
	suite.Run(t, new(GeneratorSuite))
}

func (s *GeneratorSuite) SetupTest() {
	s.renderer = &recordingRenderer{}
	s.generator = NewGenerator(s.renderer, WithMarkerSize(128))
}

const sealText = "Issued via EduChain\nAsha Rao\nRoll No: ROLL42\nID: XXXX-XXXX-9012\n2024-06-01"

func (s *GeneratorSuite) TestSeal() {
	s.Run("is deterministic for identical arguments", func() {
		a, err := s.generator.Seal([]byte("%PDF-raw"), sealText, "https://educhain.test/verify/CERT-1")
		s.Require().NoError(err)
		b, err := s.generator.Seal([]byte("%PDF-raw"), sealText, "https://educhain.test/verify/CERT-1")
		s.Require().NoError(err)
		s.Equal(a, b)
		s.Require().Len(s.renderer.layouts, 2)
		s.Equal(s.renderer.layouts[0], s.renderer.layouts[1])
	})

	s.Run("derives diagonal and footer banners from seal text", func() {
		s.renderer.layouts = nil
		_, err := s.generator.Seal([]byte("%PDF-raw"), "  line one \n\n line two  ", "ref")
		s.Require().NoError(err)
		layout := s.renderer.layouts[0]
		s.Equal("line one\nline two", layout.Banner)
		s.Equal("line one | line two", layout.Footer)
		s.NotEmpty(layout.CardCaption)
	})

	s.Run("different references produce different cards", func() {
		s.renderer.layouts = nil
		_, err := s.generator.Seal([]byte("%PDF-raw"), sealText, "ref-a")
		s.Require().NoError(err)
		_, err = s.generator.Seal([]byte("%PDF-raw"), sealText, "ref-b")
		s.Require().NoError(err)
		s.NotEqual(s.renderer.layouts[0].Card, s.renderer.layouts[1].Card)
	})

	s.Run("card is a decodable PNG", func() {
		s.renderer.layouts = nil
		_, err := s.generator.Seal([]byte("%PDF-raw"), sealText, "ref")
		s.Require().NoError(err)
		img, err := png.Decode(bytes.NewReader(s.renderer.layouts[0].Card))
		s.Require().NoError(err)
		s.Equal(128+2*cardPadding, img.Bounds().Dx())
	})
}

func (s *GeneratorSuite) TestSealFailures() {
	s.Run("empty input is unsealable", func() {
		_, err := s.generator.Seal(nil, sealText, "ref")
		s.ErrorIs(err, ErrUnsealableInput)
	})

	s.Run("renderer rejection is unsealable", func() {
		s.renderer.validateErr = errors.New("not a pdf")
		defer func() { s.renderer.validateErr = nil }()
		_, err := s.generator.Seal([]byte("garbage"), sealText, "ref")
		s.ErrorIs(err, ErrUnsealableInput)
	})

	s.Run("missing reference fails rendering", func() {
		_, err := s.generator.Seal([]byte("%PDF-raw"), sealText, "")
		s.ErrorIs(err, ErrRenderingFailed)
	})

	s.Run("blank seal text fails rendering", func() {
		_, err := s.generator.Seal([]byte("%PDF-raw"), " \n ", "ref")
		s.ErrorIs(err, ErrRenderingFailed)
	})

	s.Run("broken logo asset fails rendering", func() {
		g := NewGenerator(s.renderer, WithLogo([]byte("not a png")))
		_, err := g.Seal([]byte("%PDF-raw"), sealText, "ref")
		s.ErrorIs(err, ErrRenderingFailed)
	})

	s.Run("stamp failure returns no partial output", func() {
		s.renderer.stampErr = errors.New("font missing")
		defer func() { s.renderer.stampErr = nil }()
		out, err := s.generator.Seal([]byte("%PDF-raw"), sealText, "ref")
		s.ErrorIs(err, ErrRenderingFailed)
		s.Nil(out)
	})
}
