package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Reporter lets a running job publish coarse progress. Calls are best
// effort: a failed write is logged and never interrupts the job.
type Reporter interface {
	StartJob(ctx context.Context, total int)
	UpdateJob(ctx context.Context, current int)
	FinishJob(ctx context.Context)
}

// NopReporter discards progress
type NopReporter struct{}

func (NopReporter) StartJob(context.Context, int)  {}
func (NopReporter) UpdateJob(context.Context, int) {}
func (NopReporter) FinishJob(context.Context)      {}

// jobReporter writes progress into the job's meta field with one HSET per
// call
type jobReporter struct {
	queue  *Queue
	job    *Job
	logger *logrus.Logger

	mu   sync.Mutex
	meta Progress
}

func newJobReporter(q *Queue, job *Job) *jobReporter {
	return &jobReporter{queue: q, job: job, logger: q.logger, meta: job.Meta}
}

func (r *jobReporter) StartJob(ctx context.Context, total int) {
	r.mu.Lock()
	r.meta.Current = 0
	r.meta.Total = total
	r.meta.Type = ProgressDeterminate
	if total <= 0 {
		r.meta.Type = ProgressIndeterminate
	}
	meta := r.meta
	r.mu.Unlock()

	r.write(ctx, meta)
}

func (r *jobReporter) UpdateJob(ctx context.Context, current int) {
	r.mu.Lock()
	r.meta.Current = current
	meta := r.meta
	r.mu.Unlock()

	r.write(ctx, meta)
}

func (r *jobReporter) FinishJob(ctx context.Context) {
	r.mu.Lock()
	if r.meta.Total > 0 {
		r.meta.Current = r.meta.Total
	}
	meta := r.meta
	r.mu.Unlock()

	r.write(ctx, meta)
}

func (r *jobReporter) write(ctx context.Context, meta Progress) {
	r.job.Meta = meta

	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := r.queue.rdb.HSet(ctx, r.queue.jobKey(r.job.ID), fieldMeta, data).Err(); err != nil {
		r.logger.WithError(err).WithField("job_id", r.job.ID).Warn("Failed to write job progress")
	}
}
