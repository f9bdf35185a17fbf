package worker

import (
	"sync"
	"time"

	"github.com/wisepythagoras/matilda/internal/worker/domain"
)

// Progress is a read-only view of a run for observers such as the status
// endpoint. Only the dispatcher writes to it.
type Progress struct {
	mu        sync.RWMutex
	runID     string
	state     domain.DispatcherState
	total     int
	issued    int
	fetched   int
	resumed   int
	failed    int
	startedAt time.Time
}

// Snapshot is a point-in-time copy of Progress
type Snapshot struct {
	RunID     string        `json:"run_id"`
	State     string        `json:"state"`
	Total     int           `json:"total"`
	Issued    int           `json:"issued"`
	Completed int           `json:"completed"`
	Fetched   int           `json:"fetched"`
	Resumed   int           `json:"resumed"`
	Failed    int           `json:"failed"`
	Percent   float64       `json:"percent"`
	Elapsed   time.Duration `json:"elapsed"`
}

func (p *Progress) reset(runID string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	p.state = domain.StateStarting
	p.total = total
	p.issued, p.fetched, p.resumed, p.failed = 0, 0, 0, 0
	p.startedAt = time.Now()
}

func (p *Progress) setState(s domain.DispatcherState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *Progress) update(st *runState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = st.issued
	p.fetched = st.fetched
	p.resumed = st.resumed
	p.failed = st.failed
}

// Snapshot returns a copy of the current progress
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		RunID:     p.runID,
		State:     p.state.String(),
		Total:     p.total,
		Issued:    p.issued,
		Completed: p.fetched + p.resumed,
		Fetched:   p.fetched,
		Resumed:   p.resumed,
		Failed:    p.failed,
	}
	if p.total > 0 {
		s.Percent = float64(p.fetched+p.resumed+p.failed) / float64(p.total) * 100
	}
	if !p.startedAt.IsZero() {
		s.Elapsed = time.Since(p.startedAt)
	}
	return s
}
