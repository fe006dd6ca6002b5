package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// imagingTransformer is the pure-Go backend: Lanczos resampling from
// disintegration/imaging and the stdlib JPEG encoder. The stdlib encoder has
// no extra-optimization switch; the govips backend enables OptimizeCoding.
type imagingTransformer struct{}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if err := req.validate(); err != nil {
		return Result{}, err
	}

	src, srcFormat, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	srcBounds := src.Bounds()

	resized := imaging.Resize(src, req.Width, req.Height, imaging.Lanczos)
	flat := normalize(resized, classifyColorMode(src))

	quality := req.Quality
	data, err := encodeJPEG(flat, quality)
	if err != nil {
		return Result{}, err
	}

	steps := 0
	sizeKB := kilobytes(len(data))
	for sizeKB > req.MaxSizeKB && quality > MinQuality {
		quality -= QualityStep
		if quality < MinQuality {
			quality = MinQuality
		}
		steps++
		// Re-encode from the normalized image, never from a previous
		// lossy output, so generation loss cannot compound.
		data, err = encodeJPEG(flat, quality)
		if err != nil {
			return Result{}, err
		}
		sizeKB = kilobytes(len(data))
	}

	return Result{
		Data:           data,
		Width:          req.Width,
		Height:         req.Height,
		OriginalWidth:  srcBounds.Dx(),
		OriginalHeight: srcBounds.Dy(),
		SourceFormat:   srcFormat,
		Quality:        quality,
		SizeKB:         roundKB(sizeKB),
		CeilingMet:     sizeKB <= req.MaxSizeKB,
		BackoffSteps:   steps,
	}, nil
}

// normalize produces the three-channel representation required before JPEG
// encoding. Sources carrying alpha are composited onto opaque white; fully
// transparent pixels become pure white, partial alpha blends toward white.
// Alpha-free sources pass through untouched.
func normalize(img *image.NRGBA, mode ColorMode) *image.NRGBA {
	if mode != ModeTruecolorAlpha {
		return img
	}

	flat := image.NewNRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)
	return flat
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
