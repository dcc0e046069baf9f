package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// DeviceWorker represents a single device worker that pulls from the queue.
type DeviceWorker struct {
	ID       int
	DeviceID string
	Driver   core.Driver
	Cleanup  func()
}

// ParallelRunner runs flows on several devices at once.
type ParallelRunner struct {
	workers []DeviceWorker
	config  RunnerConfig
}

// NewParallelRunner creates a parallel runner with multiple device workers.
func NewParallelRunner(workers []DeviceWorker, cfg RunnerConfig) *ParallelRunner {
	return &ParallelRunner{workers: workers, config: cfg}
}

// Run executes flows using a work queue: every worker pulls the next flow
// until the queue is empty. A lost session on any device stops the run:
// flows already running on other devices finish, the rest are STOPPED.
// Results keep the order of flows.
func (pr *ParallelRunner) Run(ctx context.Context, flows []*flow.Flow) (*report.SuiteResult, error) {
	if len(pr.workers) == 0 {
		return nil, errors.New("no workers available")
	}

	opts, progress := pr.config.prepare(flows)
	start := time.Now()
	suite := newSuite(pr.config.SuiteName, pr.devices(), start, len(flows))
	progress.Start(start)

	queue := make(chan int, len(flows))
	for i := range flows {
		queue <- i
	}
	close(queue)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		stopAll atomic.Bool
	)
	store := func(i int, r *report.FlowResult) {
		mu.Lock()
		suite.Flows[i] = r
		mu.Unlock()
	}

	for _, w := range pr.workers {
		wg.Add(1)
		go func(w DeviceWorker) {
			defer wg.Done()
			if w.Cleanup != nil {
				defer w.Cleanup()
			}

			for i := range queue {
				if stopAll.Load() || ctx.Err() != nil {
					store(i, stoppedFlow(flows[i], progress.Flow(i), opts.Listener))
					continue
				}

				orch := New(w.Driver, opts).WithProgress(progress.Flow(i))
				result := orch.RunFlow(ctx, flows[i])
				store(i, result)

				if orch.SessionLost() {
					logger.Error("worker %d (%s): device session lost, stopping the run", w.ID, w.DeviceID)
					stopAll.Store(true)
					return
				}
				if pr.config.StopOnFail && !result.Passed() {
					stopAll.Store(true)
				}
			}
		}(w)
	}
	wg.Wait()

	// Flows left in the queue after every worker returned.
	for i := range queue {
		suite.Flows[i] = stoppedFlow(flows[i], progress.Flow(i), opts.Listener)
	}

	suite.Finish(time.Now())
	return suite, nil
}

func (pr *ParallelRunner) devices() string {
	ids := make([]string, 0, len(pr.workers))
	for _, w := range pr.workers {
		ids = append(ids, w.DeviceID)
	}
	return strings.Join(ids, ", ")
}
