package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wisepythagoras/matilda/internal/tilestore"
	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// processJob executes one tile job and always returns a report. File handles
// and response bodies are released before it returns.
func (d *Dispatcher) processJob(ctx context.Context, logger *slog.Logger, runID string, workerNum int, job *domain.JobDescriptor) domain.Report {
	start := time.Now()
	rep := domain.Report{Worker: workerNum, Job: job}

	// Step 1: resume fast path, no network activity
	path := tilestore.ResolvePath(job.OutputRoot, job.Address, job.Format)
	if tilestore.Exists(path) {
		rep.Outcome = domain.OutcomeResumed
		return rep
	}

	// Step 2: {z} and {z}/{x} directories; failure here is fatal to the run
	if err := tilestore.EnsureDirectories(job.OutputRoot, job.Address); err != nil {
		rep.Outcome = domain.OutcomeFailed
		rep.Err = err
		return rep
	}

	// Step 3: fetch and stream to disk
	url := job.URL()
	n, err := d.fetchTile(ctx, job, url, path)
	rep.Duration = time.Since(start)
	if err != nil {
		// the partial file is already gone; nothing was stored
		rep.Outcome = domain.OutcomeFailed
		rep.Err = err
		return rep
	}
	rep.Outcome = domain.OutcomeFetched
	rep.Bytes = n

	// Step 4: announce the stored tile
	if d.publisher != nil {
		event := &domain.TileEvent{
			RunID:    runID,
			Z:        job.Address.Z,
			X:        job.Address.X,
			Y:        job.Address.Y,
			URL:      url,
			Path:     path,
			Bytes:    n,
			StoredAt: time.Now(),
		}
		if err := d.publisher.PublishTile(ctx, event); err != nil {
			logger.Warn("Failed to publish tile event",
				slog.String("tile", job.Address.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return rep
}

// fetchTile performs the single fetch for a job and writes the body to path
func (d *Dispatcher) fetchTile(ctx context.Context, job *domain.JobDescriptor, url, path string) (int64, error) {
	if d.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.fetchTimeout)
		defer cancel()
	}

	body, err := d.fetcher.Fetch(ctx, url, job.Referrer)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer body.Close()

	w, err := tilestore.Create(path, d.atomicWrites)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		w.Abort()
		return n, fmt.Errorf("copy %s: %w", url, err)
	}

	if err := w.Commit(); err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}

	return n, nil
}
