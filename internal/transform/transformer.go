package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

const (
	// Quality floor for the backoff loop. Below this the output degrades
	// into blocking artifacts that defeat the form-photo use case.
	MinQuality = 5

	// Backoff decrements quality by this fixed amount per re-encode.
	QualityStep = 5

	MaxDimension = 5000
	MaxSizeKB    = 10240
)

var (
	ErrDecode         = errors.New("source image is not a decodable raster")
	ErrEncode         = errors.New("invalid encode dimensions")
	ErrInvalidRequest = errors.New("invalid transform request")
)

// Request carries the target of a single transform. Values are taken
// literally: no aspect-ratio preservation.
type Request struct {
	Width     int
	Height    int
	MaxSizeKB float64
	Quality   int
}

func (r Request) validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrEncode, r.Width, r.Height)
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions %dx%d exceed %d", ErrInvalidRequest, r.Width, r.Height, MaxDimension)
	}
	if r.MaxSizeKB <= 0 || r.MaxSizeKB > MaxSizeKB {
		return fmt.Errorf("%w: max size %.2f KB out of range", ErrInvalidRequest, r.MaxSizeKB)
	}
	if r.Quality < 1 || r.Quality > 100 {
		return fmt.Errorf("%w: quality %d out of range", ErrInvalidRequest, r.Quality)
	}
	return nil
}

// Result is a terminal value: the caller owns the bytes and the core holds
// nothing across invocations.
type Result struct {
	Data           []byte
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
	SourceFormat   string
	Quality        int
	SizeKB         float64
	CeilingMet     bool
	// BackoffSteps counts re-encodes performed by the quality backoff,
	// including a final step clamped at the quality floor.
	BackoffSteps int
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, req Request) (Result, error)
}

// New returns the transformer backend selected at build time.
func New() (Transformer, error) {
	return newTransformer()
}

// ColorMode mirrors the source color representations that matter for
// normalization before JPEG encoding.
type ColorMode int

const (
	ModeTruecolor ColorMode = iota
	ModeTruecolorAlpha
	ModeIndexed
	ModeGray
	ModeOther
)

func classifyColorMode(img image.Image) ColorMode {
	switch src := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.NYCbCrA:
		return ModeTruecolorAlpha
	case *image.Paletted:
		for _, entry := range src.Palette {
			if _, _, _, a := entry.RGBA(); a < 0xffff {
				return ModeTruecolorAlpha
			}
		}
		return ModeIndexed
	case *image.Gray, *image.Gray16:
		return ModeGray
	case *image.YCbCr:
		return ModeTruecolor
	default:
		return ModeOther
	}
}

// roundKB keeps the reported size at two decimal places. The backoff loop
// compares unrounded values; only the result is rounded.
func roundKB(kb float64) float64 {
	return math.Round(kb*100) / 100
}

func kilobytes(n int) float64 {
	return float64(n) / 1024
}
