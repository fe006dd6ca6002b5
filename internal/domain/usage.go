package domain

import "time"

// TransformLog is the per-invocation usage record. It carries scalar stats
// only; image bytes are never persisted.
type TransformLog struct {
	ID             string    `json:"id"`
	SourceFormat   string    `json:"sourceFormat"`
	OriginalWidth  int       `json:"originalWidth"`
	OriginalHeight int       `json:"originalHeight"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	OriginalKB     float64   `json:"originalKB"`
	FinalKB        float64   `json:"finalKB"`
	InitialQuality int       `json:"initialQuality"`
	FinalQuality   int       `json:"finalQuality"`
	CeilingMet     bool      `json:"ceilingMet"`
	DurationMS     int64     `json:"durationMs"`
	CreatedAt      time.Time `json:"createdAt"`
}
