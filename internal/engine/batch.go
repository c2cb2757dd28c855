package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
)

// ExecuteFunc runs one job to its outcome.
type ExecuteFunc func(context.Context, domain.JobRequest) domain.JobOutcome

// RunBatch executes N independent jobs with at most limit in flight.
// Outcomes come back in input order regardless of completion order,
// and one item's failure never cancels its siblings: workers record
// failures in their slot and report success to the group.
//
// External generation services rate-limit and degrade under unbounded
// concurrency; a small window amortizes latency without tripping them.
func RunBatch(ctx context.Context, limit int, reqs []domain.JobRequest, exec ExecuteFunc) []domain.JobOutcome {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "batch.run",
		trace.WithAttributes(
			attribute.Int("batch.size", len(reqs)),
			attribute.Int("batch.limit", limit),
		))
	defer span.End()

	if limit < 1 {
		limit = 1
	}
	out := make([]domain.JobOutcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			out[i] = exec(ctx, req)
			return nil
		})
	}
	// Workers never return an error; Wait only synchronizes.
	_ = g.Wait()
	return out
}
