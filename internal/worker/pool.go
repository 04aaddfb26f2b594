package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"covhook/scan-runner/internal/metrics"
	"covhook/scan-runner/internal/model"
)

var (
	ErrQueueFull    = errors.New("scan queue is full")
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicate is returned when another instance already scans the
	// same (service, commit) pair.
	ErrDuplicate = errors.New("scan already in progress elsewhere")
	ErrStopped   = errors.New("worker pool stopped")
)

// Runner executes one scan to completion.
type Runner interface {
	Run(ctx context.Context, req model.ScanRequest, taskID string) model.ScanResult
}

type Options struct {
	Workers   int
	QueueSize int
	// Claimer extends deduplication across processes. Optional.
	Claimer Claimer
	// Retain bounds how many finished tasks stay queryable.
	Retain int
}

// Ticket acknowledges a submitted scan.
type Ticket struct {
	TaskID    string       `json:"task_id"`
	Status    model.Status `json:"status"`
	Coalesced bool         `json:"coalesced,omitempty"`
}

type task struct {
	id     string
	req    model.ScanRequest
	result model.ScanResult
	done   chan struct{}
}

// Pool runs scans on a fixed number of workers fed by a bounded queue.
// At most one scan per (service, commit) is in flight; further submissions
// for the same pair join the existing task.
type Pool struct {
	runner  Runner
	claimer Claimer
	retain  int
	log     logrus.FieldLogger

	queue chan *task
	wg    sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	inflight map[string]*task
	tasks    map[string]*task
	finished []string
}

func NewPool(runner Runner, opts Options, log logrus.FieldLogger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.Retain <= 0 {
		opts.Retain = 1000
	}
	p := &Pool{
		runner:   runner,
		claimer:  opts.Claimer,
		retain:   opts.Retain,
		log:      log,
		queue:    make(chan *task, opts.QueueSize),
		inflight: make(map[string]*task),
		tasks:    make(map[string]*task),
	}
	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.work(i)
	}
	return p
}

// Submit enqueues req and returns without waiting for the scan.
func (p *Pool) Submit(ctx context.Context, req model.ScanRequest) (Ticket, error) {
	key := req.Key()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return Ticket{}, ErrStopped
	}
	if t, ok := p.inflight[key]; ok {
		metrics.Coalesced()
		p.log.WithFields(logrus.Fields{
			"request_id": req.RequestID,
			"task_id":    t.id,
			"key":        key,
		}).Info("joined in-flight scan")
		return Ticket{TaskID: t.id, Status: t.result.Status, Coalesced: true}, nil
	}

	if p.claimer != nil {
		ok, err := p.claimer.Claim(ctx, key)
		switch {
		case err != nil:
			p.log.WithError(err).WithField("key", key).Warn("could not claim scan, continuing with local deduplication")
		case !ok:
			return Ticket{}, ErrDuplicate
		}
	}

	t := &task{
		id:  uuid.NewString(),
		req: req,
		result: model.ScanResult{
			RequestID:   req.RequestID,
			ServiceName: req.ServiceName,
			CommitID:    req.CommitID,
			Branch:      req.Branch,
			Status:      model.StatusAccepted,
		},
		done: make(chan struct{}),
	}
	t.result.TaskID = t.id

	select {
	case p.queue <- t:
	default:
		p.releaseClaim(key)
		return Ticket{}, ErrQueueFull
	}
	p.inflight[key] = t
	p.tasks[t.id] = t
	metrics.SetQueueDepth(len(p.queue))
	return Ticket{TaskID: t.id, Status: model.StatusAccepted}, nil
}

// Get returns the current state of a task.
func (p *Pool) Get(id string) (model.ScanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return model.ScanResult{}, ErrTaskNotFound
	}
	return t.result, nil
}

// Wait blocks until the task finishes or ctx is done.
func (p *Pool) Wait(ctx context.Context, id string) (model.ScanResult, error) {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		return model.ScanResult{}, ErrTaskNotFound
	}
	select {
	case <-t.done:
		return p.Get(id)
	case <-ctx.Done():
		return model.ScanResult{}, ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued scans to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(n int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.mu.Lock()
		t.result.Status = model.StatusRunning
		t.result.StartedAt = time.Now().UTC()
		metrics.SetQueueDepth(len(p.queue))
		p.mu.Unlock()

		p.log.WithFields(logrus.Fields{
			"worker":     n,
			"task_id":    t.id,
			"request_id": t.req.RequestID,
		}).Debug("scan picked up")
		result := p.runner.Run(context.Background(), t.req, t.id)
		p.complete(t, result)
	}
}

func (p *Pool) complete(t *task, result model.ScanResult) {
	key := t.req.Key()
	p.mu.Lock()
	t.result = result
	if p.inflight[key] == t {
		delete(p.inflight, key)
	}
	p.finished = append(p.finished, t.id)
	for len(p.finished) > p.retain {
		delete(p.tasks, p.finished[0])
		p.finished = p.finished[1:]
	}
	p.mu.Unlock()

	p.releaseClaim(key)
	close(t.done)
}

func (p *Pool) releaseClaim(key string) {
	if p.claimer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.claimer.Release(ctx, key); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("could not release scan claim")
	}
}
