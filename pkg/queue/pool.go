package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

// Handler runs one job. Returning Handled(err) fails the job quietly;
// any other error fails it loudly.
type Handler func(ctx context.Context, job *Job, progress Reporter) error

// Registry maps function names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous one for name
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Lookup returns the handler for name
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered functions
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// PoolConfig configures a worker pool
type PoolConfig struct {
	// Name prefixes worker names; defaults to the hostname
	Name           string
	Queues         []string
	WorkerCount    int
	StatusInterval time.Duration
	PollTimeout    time.Duration
}

// PoolStatus is a snapshot of the pool's counters
type PoolStatus struct {
	Processed int
	Succeeded int
	Failed    int
	Running   int
	StartTime time.Time
}

// Pool runs jobs from its queues on concurrent workers. Each job runs under
// its own timeout and is detached from pool shutdown, so stopping the pool
// lets running jobs finish or time out.
type Pool struct {
	queue    *Queue
	registry *Registry
	config   PoolConfig
	logger   *logrus.Logger

	mu     sync.RWMutex
	status PoolStatus
}

// NewPool creates a pool over queue
func NewPool(q *Queue, registry *Registry, config PoolConfig, logger *logrus.Logger) *Pool {
	if config.WorkerCount < 1 {
		config.WorkerCount = DefaultWorkerCount
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = DefaultStatusInterval
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	if config.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		config.Name = host
	}

	return &Pool{
		queue:    q,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Run processes jobs until ctx is cancelled, then waits for running jobs
func (p *Pool) Run(ctx context.Context) error {
	if len(p.config.Queues) == 0 {
		return fmt.Errorf("pool has no queues")
	}

	p.mu.Lock()
	p.status = PoolStatus{StartTime: time.Now()}
	p.mu.Unlock()

	stopReporter := make(chan struct{})
	go p.reportStatus(p.config.StatusInterval, stopReporter)
	defer close(stopReporter)

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		name := fmt.Sprintf("%s.%s.%d.%s", p.config.Name, p.config.Queues[0], i, uuid.NewString()[:8])
		if err := p.queue.registerWorker(ctx, name, p.config.Queues, p.workerTTL()); err != nil {
			return fmt.Errorf("failed to register worker %s: %w", name, err)
		}

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p.worker(ctx, name)
		}(name)
	}

	p.logger.WithFields(logrus.Fields{
		"queues":  p.config.Queues,
		"workers": p.config.WorkerCount,
	}).Info("Worker pool started")

	wg.Wait()

	p.logger.WithField("queues", p.config.Queues).Info("Worker pool stopped")
	return nil
}

// Status returns a copy of the current pool status
func (p *Pool) Status() PoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Pool) workerTTL() time.Duration {
	ttl := 3 * p.config.StatusInterval
	if ttl < DefaultWorkerTTL {
		ttl = DefaultWorkerTTL
	}
	return ttl
}

// worker pulls jobs until ctx is cancelled
func (p *Pool) worker(ctx context.Context, name string) {
	log := p.logger.WithField("worker", name)
	log.Debug("Worker started")

	defer func() {
		if err := p.queue.unregisterWorker(context.WithoutCancel(ctx), name); err != nil {
			log.WithError(err).Warn("Failed to unregister worker")
		}
		log.Debug("Worker stopped")
	}()

	lastBeat := time.Now()
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, p.config.Queues, p.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.PollTimeout):
			}
			continue
		}

		if job == nil {
			if time.Since(lastBeat) >= p.config.StatusInterval {
				p.beat(ctx, name, "idle", "")
				lastBeat = time.Now()
			}
			continue
		}

		p.beat(ctx, name, "busy", job.ID)
		p.execute(ctx, name, job)
		p.beat(context.WithoutCancel(ctx), name, "idle", "")
		lastBeat = time.Now()
	}
}

func (p *Pool) beat(ctx context.Context, name, state, jobID string) {
	if err := p.queue.heartbeat(ctx, name, state, jobID, p.workerTTL()); err != nil && ctx.Err() == nil {
		p.logger.WithError(err).WithField("worker", name).Warn("Worker heartbeat failed")
	}
}

// execute runs one job to completion, failure or timeout
func (p *Pool) execute(ctx context.Context, workerName string, job *Job) {
	log := p.logger.WithFields(logrus.Fields{
		"worker":   workerName,
		"job_id":   job.ID,
		"queue":    job.Queue,
		"function": job.Func,
	})

	// Bookkeeping outlives pool shutdown
	bookCtx := context.WithoutCancel(ctx)

	handler, ok := p.registry.Lookup(job.Func)
	if !ok {
		err := fmt.Errorf("no handler registered for %q", job.Func)
		log.WithError(err).Error("Job failed")
		p.finish(bookCtx, job, err, 0)
		return
	}

	if err := p.queue.markRunning(bookCtx, job, workerName); err != nil {
		log.WithError(err).Warn("Failed to mark job running")
	}

	p.mu.Lock()
	p.status.Running++
	p.mu.Unlock()
	metrics.JobsInFlight.WithLabelValues(job.Queue).Inc()

	log.WithField("description", job.Description).Debug("Processing job")
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(bookCtx, job.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("job panicked: %v", r)
			}
		}()
		done <- handler(jobCtx, job, newJobReporter(p.queue, job))
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		err = fmt.Errorf("%w (%s)", ErrTimeout, job.Timeout)
	}

	metrics.JobsInFlight.WithLabelValues(job.Queue).Dec()
	p.mu.Lock()
	p.status.Running--
	p.mu.Unlock()

	elapsed := time.Since(start)
	switch {
	case err == nil:
		log.WithField("duration", elapsed.String()).Debug("Job completed successfully")
	case IsHandled(err):
		log.WithError(err).Warn("Job failed")
	case errors.Is(err, ErrTimeout):
		log.WithError(err).Error("Job timed out")
	default:
		log.WithError(err).Error("Job failed with unexpected error")
	}

	p.finish(bookCtx, job, err, elapsed)
}

func (p *Pool) finish(ctx context.Context, job *Job, err error, elapsed time.Duration) {
	status := StatusSucceeded
	var storeErr error
	if err == nil {
		storeErr = p.queue.markSucceeded(ctx, job)
	} else {
		status = StatusFailed
		storeErr = p.queue.markFailed(ctx, job, err)
	}
	if storeErr != nil {
		p.logger.WithError(storeErr).WithField("job_id", job.ID).Error("Failed to record job outcome")
	}

	metrics.JobsProcessed.WithLabelValues(job.Queue, job.Func, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(job.Queue, job.Func).Observe(elapsed.Seconds())

	p.mu.Lock()
	p.status.Processed++
	if status == StatusSucceeded {
		p.status.Succeeded++
	} else {
		p.status.Failed++
	}
	p.mu.Unlock()
}

// reportStatus periodically logs pool counters and queue depth
func (p *Pool) reportStatus(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fields := logrus.Fields{}
			for _, name := range p.config.Queues {
				if depth, err := p.queue.Pending(context.Background(), name); err == nil {
					fields["pending_"+name] = depth
				}
			}

			p.mu.RLock()
			fields["processed"] = p.status.Processed
			fields["succeeded"] = p.status.Succeeded
			fields["failed"] = p.status.Failed
			fields["running"] = p.status.Running
			fields["uptime"] = time.Since(p.status.StartTime).String()
			p.mu.RUnlock()

			p.logger.WithFields(fields).Info("Worker pool status update")
		case <-stop:
			return
		}
	}
}
