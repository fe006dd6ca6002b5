//go:build govips && cgo

package transform

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsTransformer runs the same transform through libvips. Resampling uses
// the Lanczos3 kernel and exports enable OptimizeCoding, the encoder's
// extra-compression-effort switch.
type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if err := req.validate(); err != nil {
		return Result{}, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()

	originalWidth := img.Width()
	originalHeight := img.Height()
	if originalWidth <= 0 || originalHeight <= 0 {
		return Result{}, fmt.Errorf("%w: source %dx%d", ErrDecode, originalWidth, originalHeight)
	}
	srcFormat := formatName(vips.DetermineImageType(input))

	hscale := float64(req.Width) / float64(originalWidth)
	vscale := float64(req.Height) / float64(originalHeight)
	if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return Result{}, fmt.Errorf("resize image: %w", err)
	}

	// Flatten before any generic conversion so transparency lands on
	// white rather than the encoder default.
	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return Result{}, fmt.Errorf("flatten alpha: %w", err)
		}
	}
	if img.Bands() < 3 {
		if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
			return Result{}, fmt.Errorf("convert colorspace: %w", err)
		}
	}

	quality := req.Quality
	data, err := exportJPEG(img, quality)
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
		data, err = exportJPEG(img, quality)
		if err != nil {
			return Result{}, err
		}
		sizeKB = kilobytes(len(data))
	}

	return Result{
		Data:           data,
		Width:          req.Width,
		Height:         req.Height,
		OriginalWidth:  originalWidth,
		OriginalHeight: originalHeight,
		SourceFormat:   srcFormat,
		Quality:        quality,
		SizeKB:         roundKB(sizeKB),
		CeilingMet:     sizeKB <= req.MaxSizeKB,
		BackoffSteps:   steps,
	}, nil
}

func exportJPEG(img *vips.ImageRef, quality int) ([]byte, error) {
	params := vips.NewJpegExportParams()
	params.Quality = quality
	params.OptimizeCoding = true
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return data, nil
}

func formatName(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypePNG:
		return "png"
	default:
		return "unknown"
	}
}
