package types

import "time"

// Direction is the transfer direction.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// TransferItem is an in-flight transfer as shown to the UI.
// It exists only while the transfer runs.
type TransferItem struct {
	// Key is the file id for downloads or the source file name for uploads.
	Key       string    `json:"key"`
	Direction Direction `json:"direction"`
	// Progress is a percentage in [0, 100].
	Progress float64 `json:"progress"`
	// Stalled is set after repeated failed status samples.
	Stalled   bool      `json:"stalled"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
