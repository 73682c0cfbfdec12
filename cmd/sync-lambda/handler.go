package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/pipeline"
)

// runner is the part of the orchestrator the handler drives.
type runner interface {
	UpdateOne(ctx context.Context, cinemaID string) pipeline.Outcome
	UpdateAll(ctx context.Context) (*pipeline.Report, error)
}

var _ runner = (*pipeline.Orchestrator)(nil)

// handle dispatches one invocation. Per-cinema failures are part of the
// result, not errors, so the platform does not retry a finished run.
func handle(ctx context.Context, r runner, event SyncEvent) (*SyncResult, error) {
	if event.CinemaID != "" {
		out := r.UpdateOne(ctx, event.CinemaID)
		log.Info().
			Str("cinemaId", out.CinemaID).
			Str("status", string(out.Status)).
			Int("matched", out.MoviesMatched).
			Msg("Single cinema sync finished")
		return &SyncResult{Mode: modeSingle, Outcome: &out}, nil
	}

	log.Info().Str("source", event.Source).Str("detailType", event.DetailType).Msg("Batch sync triggered")
	report, err := r.UpdateAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch sync: %w", err)
	}
	return &SyncResult{Mode: modeBatch, Report: report}, nil
}
