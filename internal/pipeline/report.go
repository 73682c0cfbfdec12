package pipeline

import (
	"time"

	"github.com/fpang/cinema-sync/internal/quota"
)

// Status is the outcome of one cinema within a run.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusSkippedNoURL Status = "skipped_no_url"
	StatusFailed       Status = "failed"
	// StatusNotAttempted marks cinemas left over when a run stops on quota.
	StatusNotAttempted Status = "not_attempted"
)

// Outcome is the report entry for one cinema.
type Outcome struct {
	CinemaID      string   `json:"cinemaId"`
	Name          string   `json:"name"`
	Status        Status   `json:"status"`
	MoviesFound   int      `json:"moviesFound"`
	MoviesMatched int      `json:"moviesMatched"`
	MovieIDs      []int    `json:"movieIds,omitempty"`
	Unmatched     []string `json:"unmatched,omitempty"`
	Error         string   `json:"error,omitempty"`
	DurationMs    int64    `json:"durationMs"`
}

// Report is the aggregate result of UpdateAll. It is not persisted.
type Report struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`

	Eligible      int `json:"eligible"`
	Cap           int `json:"cap"`
	Processed     int `json:"processed"`
	Succeeded     int `json:"succeeded"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	NotAttempted  int `json:"notAttempted"`
	MoviesMatched int `json:"moviesMatched"`

	// StopReason is set when the run ended before its cap.
	StopReason quota.Reason `json:"stopReason,omitempty"`

	Outcomes []Outcome      `json:"outcomes"`
	Quota    quota.Snapshot `json:"quota"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusSuccess:
		r.Processed++
		r.Succeeded++
		r.MoviesMatched += o.MoviesMatched
	case StatusFailed:
		r.Processed++
		r.Failed++
	case StatusSkippedNoURL:
		r.Skipped++
	case StatusNotAttempted:
		r.NotAttempted++
	}
}

// Overview is the result of the Status operation.
type Overview struct {
	Eligible          int            `json:"eligible"`
	WithURL           int            `json:"withUrl"`
	WithoutURL        int            `json:"withoutUrl"`
	GeminiConfigured  bool           `json:"geminiConfigured"`
	CatalogConfigured bool           `json:"catalogConfigured"`
	BatchCap          int            `json:"batchCap"`
	Quota             quota.Snapshot `json:"quota"`
}
