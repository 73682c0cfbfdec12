package main

import "github.com/fpang/cinema-sync/internal/pipeline"

// SyncEvent is the invocation payload. The EventBridge schedule sends its
// standard envelope, which has no cinemaId, and runs a batch. A direct
// invocation with cinemaId syncs that cinema only.
type SyncEvent struct {
	CinemaID   string `json:"cinemaId,omitempty"`
	Source     string `json:"source,omitempty"`
	DetailType string `json:"detail-type,omitempty"`
}

// SyncResult is returned to the invoker.
type SyncResult struct {
	Mode    string            `json:"mode"`
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`
	Report  *pipeline.Report  `json:"report,omitempty"`
}

const (
	modeSingle = "single"
	modeBatch  = "batch"
)
