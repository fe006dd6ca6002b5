package domain

import (
	"fmt"
	"strings"
)

// Limits is the explicit configuration handed to validation at startup.
// Nothing here is process-global.
type Limits struct {
	MaxDimension      int
	MaxSizeKB         float64
	MaxUploadBytes    int64
	AllowedExtensions []string
}

func DefaultLimits() Limits {
	return Limits{
		MaxDimension:      5000,
		MaxSizeKB:         10240,
		MaxUploadBytes:    16 << 20,
		AllowedExtensions: []string{"jpg", "jpeg", "png"},
	}
}

// UploadParams are the caller-facing transform parameters, already parsed
// from form fields. Validate runs before the core is ever invoked.
type UploadParams struct {
	Width     int
	Height    int
	MaxSizeKB float64
	Quality   int
}

func (p UploadParams) Validate(limits Limits) error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("Width and height must be positive numbers.")
	}
	if p.Width > limits.MaxDimension || p.Height > limits.MaxDimension {
		return fmt.Errorf("Width and height cannot exceed %d pixels.", limits.MaxDimension)
	}
	if p.MaxSizeKB <= 0 {
		return fmt.Errorf("Maximum file size must be a positive number.")
	}
	if p.MaxSizeKB > limits.MaxSizeKB {
		return fmt.Errorf("Maximum file size cannot exceed %.0f KB (%.0f MB).", limits.MaxSizeKB, limits.MaxSizeKB/1024)
	}
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("Quality must be between 1 and 100.")
	}
	return nil
}

// AllowedFile reports whether the filename carries one of the allow-listed
// extensions. Extension matching is case-insensitive and requires a dot.
func AllowedFile(filename string, allowed []string) bool {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	for _, candidate := range allowed {
		if ext == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

type DownloadRequest struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}
