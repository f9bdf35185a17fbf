package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisepythagoras/matilda/internal/metrics"
	"github.com/wisepythagoras/matilda/internal/tiling"
	"github.com/wisepythagoras/matilda/internal/tilestore"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// runState is owned by a single Run call and never shared with workers
type runState struct {
	it       *tiling.RangeIterator
	total    int
	assigned []*domain.JobDescriptor
	busy     int

	issued   int
	fetched  int
	resumed  int
	failed   int
	canceled bool
}

func (st *runState) completed() int {
	return st.fetched + st.resumed
}

// Run fetches every tile of req and blocks until the pool has shut down.
//
// A *domain.PathError for the output root or an intermediate directory aborts
// the run. Per-tile fetch and write failures are counted and the run goes on.
// Cancelling ctx stops job issuance; the partial summary is returned with the
// context error.
func (d *Dispatcher) Run(ctx context.Context, req *Request) (*Summary, error) {
	start := time.Now()

	run := &domain.Run{
		RunID:      uuid.NewString(),
		Status:     domain.RunStatusRunning,
		SourceURL:  req.SourceURLTemplate,
		BBox:       [4]float64{req.BBox.South, req.BBox.West, req.BBox.North, req.BBox.East},
		MinZoom:    req.Zoom.Min,
		MaxZoom:    req.Zoom.Max,
		Format:     req.Format,
		OutputRoot: req.OutputRoot,
		Workers:    d.concurrency,
		Total:      tiling.Total(req.BBox, req.Zoom),
		StartedAt:  start,
	}
	d.progress.reset(run.RunID, run.Total)

	logger := d.logger.With(slog.String("run_id", run.RunID))
	logger.Info("Starting tile run",
		slog.String("source", req.SourceURLTemplate),
		slog.String("output", req.OutputRoot),
		slog.Int("min_zoom", req.Zoom.Min),
		slog.Int("max_zoom", req.Zoom.Max),
		slog.Int("total_tiles", run.Total),
		slog.Int("workers", d.concurrency),
	)

	if d.journal != nil {
		if err := d.journal.StartRun(ctx, run); err != nil {
			logger.Warn("Failed to record run start", slog.String("error", err.Error()))
		}
	}

	summary := &Summary{RunID: run.RunID, Total: run.Total}

	var err error
	if err = tilestore.EnsureRoot(req.OutputRoot); err != nil {
		logger.Error("Failed to create output root",
			slog.String("path", req.OutputRoot),
			slog.String("error", err.Error()),
		)
	} else {
		err = d.dispatch(ctx, logger, run.RunID, req, summary)
	}

	summary.Duration = time.Since(start)
	d.finish(ctx, logger, run, summary, err)

	return summary, err
}

// dispatch runs the Starting -> Running -> Draining -> Stopped state machine
func (d *Dispatcher) dispatch(ctx context.Context, logger *slog.Logger, runID string, req *Request, summary *Summary) error {
	st := &runState{
		it:       tiling.NewRangeIterator(req.BBox, req.Zoom),
		total:    summary.Total,
		assigned: make([]*domain.JobDescriptor, d.concurrency),
	}

	jobs := make([]chan *domain.JobDescriptor, d.concurrency)
	for i := range jobs {
		jobs[i] = make(chan *domain.JobDescriptor)
	}
	reports := make(chan domain.Report, d.concurrency)

	var wg sync.WaitGroup
	d.spawnWorkerPool(ctx, logger, runID, jobs, reports, &wg)

	// Starting: one job per worker; workers left without one terminate now
	active := 0
	for i := range jobs {
		if d.assign(ctx, st, req, jobs, i) {
			active++
		}
	}
	if active < len(jobs) {
		logger.Debug("Range smaller than worker pool",
			slog.Int("idle_workers", len(jobs)-active),
		)
	}
	metrics.SetActiveWorkers(st.busy)

	d.progress.setState(domain.StateRunning)

	var fatal error
	for active > 0 {
		rep := <-reports
		st.assigned[rep.Worker] = nil
		st.busy--
		d.record(logger, st, rep)

		// A job cut short by the run's own cancellation makes the run canceled
		// even when nothing was left to issue
		if !st.canceled && ctx.Err() != nil && errors.Is(rep.Err, ctx.Err()) {
			st.canceled = true
			d.progress.setState(domain.StateDraining)
		}

		if fatal == nil && domain.IsFatal(rep.Err) {
			fatal = rep.Err
			d.progress.setState(domain.StateDraining)
			logger.Error("Fatal store error, draining worker pool",
				slog.String("error", rep.Err.Error()),
			)
		}

		switch {
		case fatal != nil:
			close(jobs[rep.Worker])
			active--
		case !d.assign(ctx, st, req, jobs, rep.Worker):
			active--
		}
		metrics.SetActiveWorkers(st.busy)
	}

	d.progress.setState(domain.StateDraining)
	wg.Wait()
	d.progress.setState(domain.StateStopped)

	summary.Issued = st.issued
	summary.Completed = st.completed()
	summary.Fetched = st.fetched
	summary.Resumed = st.resumed
	summary.Failed = st.failed
	summary.Canceled = st.canceled

	if fatal != nil {
		return fatal
	}
	if st.canceled {
		return fmt.Errorf("run canceled: %w", context.Cause(ctx))
	}
	return nil
}

// assign hands worker i its next job. When there is none, because the range
// is exhausted or ctx is done, the worker's channel is closed and false is
// returned. This is the only place the iterator advances.
func (d *Dispatcher) assign(ctx context.Context, st *runState, req *Request, jobs []chan *domain.JobDescriptor, i int) bool {
	if ctx.Err() != nil {
		if !st.canceled && st.issued < st.total {
			st.canceled = true
			d.progress.setState(domain.StateDraining)
		}
		close(jobs[i])
		return false
	}

	addr, ok := st.it.Next()
	if !ok {
		close(jobs[i])
		return false
	}

	job := &domain.JobDescriptor{
		Address:           addr,
		SourceURLTemplate: req.SourceURLTemplate,
		Referrer:          req.Referrer,
		OutputRoot:        req.OutputRoot,
		Format:            req.Format,
	}
	st.assigned[i] = job
	st.issued++
	st.busy++

	jobs[i] <- job
	return true
}

// record folds one worker report into the run state
func (d *Dispatcher) record(logger *slog.Logger, st *runState, rep domain.Report) {
	switch rep.Outcome {
	case domain.OutcomeFetched:
		st.fetched++
		logger.Debug("Tile fetched",
			slog.String("tile", rep.Job.Address.String()),
			slog.Int64("bytes", rep.Bytes),
			slog.Duration("duration", rep.Duration),
		)
	case domain.OutcomeResumed:
		st.resumed++
	case domain.OutcomeFailed:
		st.failed++
		if d.verbose || domain.IsFatal(rep.Err) {
			logger.Warn("Tile failed",
				slog.String("tile", rep.Job.Address.String()),
				slog.String("url", rep.Job.URL()),
				slog.Int("worker_num", rep.Worker),
				slog.String("error", errString(rep.Err)),
			)
		}
	}

	metrics.ObserveTile(string(rep.Outcome), rep.Bytes, rep.Duration)
	d.progress.update(st)

	if done := st.completed() + st.failed; done%d.progressInterval == 0 {
		snap := d.progress.Snapshot()
		logger.Info("Run progress",
			slog.Int("done", done),
			slog.Int("total", snap.Total),
			slog.Float64("percent", snap.Percent),
			slog.Int("failed", st.failed),
		)
	}
}

// finish records the final run status with the journal, publisher and metrics
func (d *Dispatcher) finish(ctx context.Context, logger *slog.Logger, run *domain.Run, summary *Summary, err error) {
	now := time.Now()
	run.FinishedAt = &now
	run.Completed = summary.Completed
	run.Fetched = summary.Fetched
	run.Resumed = summary.Resumed
	run.Failed = summary.Failed

	switch {
	case err == nil:
		run.Status = domain.RunStatusCompleted
	case summary.Canceled:
		run.Status = domain.RunStatusCanceled
		run.Error = err.Error()
	default:
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
	}

	d.progress.setState(domain.StateStopped)
	metrics.ObserveRun(run.Status)
	metrics.SetActiveWorkers(0)

	// the run context may already be canceled; bookkeeping still has to land
	bg := context.WithoutCancel(ctx)

	if d.journal != nil {
		if jerr := d.journal.FinishRun(bg, run); jerr != nil {
			logger.Warn("Failed to record run finish", slog.String("error", jerr.Error()))
		}
	}
	if d.publisher != nil {
		if perr := d.publisher.PublishRun(bg, run); perr != nil {
			logger.Warn("Failed to publish run summary", slog.String("error", perr.Error()))
		}
	}

	attrs := []any{
		slog.String("status", run.Status),
		slog.Int("completed", summary.Completed),
		slog.Int("fetched", summary.Fetched),
		slog.Int("resumed", summary.Resumed),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Tile run failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	logger.Info("Tile run finished", attrs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
