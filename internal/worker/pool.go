package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// spawnWorkerPool starts one goroutine per job channel
func (d *Dispatcher) spawnWorkerPool(ctx context.Context, logger *slog.Logger, runID string, jobs []chan *domain.JobDescriptor, reports chan<- domain.Report, wg *sync.WaitGroup) {
	logger.Debug("Spawning worker pool",
		slog.Int("concurrency", len(jobs)),
	)

	for i := range jobs {
		wg.Add(1)
		go d.workerLoop(ctx, logger, runID, i, jobs[i], reports, wg)
	}
}

// workerLoop executes jobs one at a time until the dispatcher closes its
// channel. It never exits on its own: the dispatcher may be about to send,
// so termination is always signalled through the channel.
func (d *Dispatcher) workerLoop(ctx context.Context, logger *slog.Logger, runID string, workerNum int, jobs <-chan *domain.JobDescriptor, reports chan<- domain.Report, wg *sync.WaitGroup) {
	defer wg.Done()

	handled := 0
	for job := range jobs {
		reports <- d.processJob(ctx, logger, runID, workerNum, job)
		handled++
	}

	logger.Debug("Worker goroutine stopping - jobs channel closed",
		slog.Int("worker_num", workerNum),
		slog.Int("jobs_handled", handled),
	)
}
