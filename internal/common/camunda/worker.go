// internal/common/camunda/worker.go
package camunda

import (
	"sort"
	"sync"
	"time"

	"immo-alerts/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/sourcegraph/conc"
)

// JobHandler processes one activated job; it completes or fails the job itself.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// WorkerGroup owns the job workers opened against one gateway. It is safe for
// concurrent use.
type WorkerGroup struct {
	client zbc.Client
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkerGroup(client zbc.Client, log logger.Logger) *WorkerGroup {
	return &WorkerGroup{
		client:  client,
		logger:  log.WithFields(map[string]interface{}{"component": "zeebe-workers"}),
		workers: make(map[string]worker.JobWorker),
	}
}

// Open starts polling taskType. Opening a task type twice keeps the first worker.
func (g *WorkerGroup) Open(taskType string, maxJobsActive int, timeout time.Duration, handler JobHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.workers[taskType]; ok {
		g.logger.Warn("worker already open", map[string]interface{}{"taskType": taskType})
		return
	}
	g.workers[taskType] = g.client.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(maxJobsActive).
		Timeout(timeout).
		Open()

	g.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": maxJobsActive,
		"timeout":       timeout.String(),
	})
}

// TaskTypes lists the open task types, sorted.
func (g *WorkerGroup) TaskTypes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.workers))
	for t := range g.workers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Stop closes every worker and waits for in-flight handlers.
func (g *WorkerGroup) Stop() {
	g.mu.Lock()
	workers := g.workers
	g.workers = make(map[string]worker.JobWorker)
	g.mu.Unlock()

	var wg conc.WaitGroup
	for taskType, w := range workers {
		wg.Go(func() {
			w.Close()
			w.AwaitClose()
			g.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
		})
	}
	wg.Wait()
}
