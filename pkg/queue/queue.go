package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

// ErrJobNotFound is returned for unknown or expired job ids
var ErrJobNotFound = errors.New("queue: job not found")

// Hash fields of a job
const (
	fieldData      = "data"
	fieldStatus    = "status"
	fieldMeta      = "meta"
	fieldError     = "error"
	fieldWorker    = "worker"
	fieldStartedAt = "started_at"
	fieldEndedAt   = "ended_at"
)

// Queue is the Redis backed job queue. Queues are lists of job ids; each
// job is a hash; failed job ids are kept on a separate list for operators.
type Queue struct {
	rdb       *redis.Client
	prefix    string
	resultTTL time.Duration
	logger    *logrus.Logger
}

// NewQueue creates a queue facade under cfg.Prefix
func NewQueue(rdb *redis.Client, cfg *QueueConfig, logger *logrus.Logger) *Queue {
	prefix, ttl := DefaultPrefix, DefaultResultTTL
	if cfg != nil {
		if cfg.Prefix != "" {
			prefix = cfg.Prefix
		}
		if cfg.ResultTTL > 0 {
			ttl = cfg.ResultTTL
		}
	}
	return &Queue{rdb: rdb, prefix: prefix, resultTTL: ttl, logger: logger}
}

func (q *Queue) queueKey(name string) string  { return q.prefix + ":queue:" + name }
func (q *Queue) jobKey(id string) string      { return q.prefix + ":job:" + id }
func (q *Queue) failedKey() string            { return q.prefix + ":failed" }
func (q *Queue) workersKey() string           { return q.prefix + ":workers" }
func (q *Queue) workerKey(name string) string { return q.prefix + ":worker:" + name }

// Enqueue places a job on its queue
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Job, error) {
	if req.Queue == "" || req.Func == "" {
		return nil, fmt.Errorf("queue and function are required")
	}
	if req.Timeout <= 0 {
		return nil, fmt.Errorf("job %s requires a positive timeout", req.Func)
	}

	args, err := json.Marshal(req.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args for %s: %w", req.Func, err)
	}

	progressType := req.ProgressType
	if progressType == "" {
		progressType = ProgressIndeterminate
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       req.Queue,
		Func:        req.Func,
		Args:        args,
		Timeout:     req.Timeout,
		Description: req.Description,
		EnqueuedAt:  time.Now().UTC(),
		Status:      StatusQueued,
		Meta:        Progress{Type: progressType, Description: req.Description},
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	meta, err := json.Marshal(job.Meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job meta: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID), fieldData, data, fieldStatus, string(StatusQueued), fieldMeta, meta)
		pipe.LPush(ctx, q.queueKey(job.Queue), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", req.Func, err)
	}

	metrics.JobsEnqueued.WithLabelValues(job.Queue, job.Func).Inc()
	q.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"queue":       job.Queue,
		"function":    job.Func,
		"description": job.Description,
		"timeout":     job.Timeout.String(),
	}).Debug("Enqueued job")

	return job, nil
}

// Dequeue blocks up to wait for a job on any of queues. It returns nil
// without error when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, queues []string, wait time.Duration) (*Job, error) {
	keys := make([]string, 0, len(queues))
	for _, name := range queues {
		keys = append(keys, q.queueKey(name))
	}

	result, err := q.rdb.BRPop(ctx, wait, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	job, err := q.Job(ctx, result[1])
	if errors.Is(err, ErrJobNotFound) {
		q.logger.WithField("job_id", result[1]).Warn("Dropping queued id without job data")
		return nil, nil
	}
	return job, err
}

// Job loads a job by id
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 || fields[fieldData] == "" {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	var job Job
	if err := json.Unmarshal([]byte(fields[fieldData]), &job); err != nil {
		return nil, fmt.Errorf("malformed job %s: %w", id, err)
	}

	job.Status = Status(fields[fieldStatus])
	job.Error = fields[fieldError]
	job.Worker = fields[fieldWorker]
	if raw := fields[fieldMeta]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Meta); err != nil {
			return nil, fmt.Errorf("malformed meta for job %s: %w", id, err)
		}
	}
	job.StartedAt = parseUnix(fields[fieldStartedAt])
	job.EndedAt = parseUnix(fields[fieldEndedAt])

	return &job, nil
}

func (q *Queue) markRunning(ctx context.Context, job *Job, worker string) error {
	now := time.Now()
	job.Status = StatusRunning
	job.Worker = worker
	job.StartedAt = &now

	return q.rdb.HSet(ctx, q.jobKey(job.ID),
		fieldStatus, string(StatusRunning),
		fieldWorker, worker,
		fieldStartedAt, strconv.FormatInt(now.Unix(), 10),
	).Err()
}

func (q *Queue) markSucceeded(ctx context.Context, job *Job) error {
	now := time.Now()
	job.Status = StatusSucceeded
	job.EndedAt = &now

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID),
			fieldStatus, string(StatusSucceeded),
			fieldEndedAt, strconv.FormatInt(now.Unix(), 10),
		)
		pipe.Expire(ctx, q.jobKey(job.ID), q.resultTTL)
		return nil
	})
	return err
}

func (q *Queue) markFailed(ctx context.Context, job *Job, cause error) error {
	now := time.Now()
	job.Status = StatusFailed
	job.EndedAt = &now
	job.Error = cause.Error()

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID),
			fieldStatus, string(StatusFailed),
			fieldError, job.Error,
			fieldEndedAt, strconv.FormatInt(now.Unix(), 10),
		)
		pipe.LPush(ctx, q.failedKey(), job.ID)
		return nil
	})
	return err
}

// Failed lists failed jobs, most recent first
func (q *Queue) Failed(ctx context.Context) ([]JobView, error) {
	ids, err := q.rdb.LRange(ctx, q.failedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	views := make([]JobView, 0, len(ids))
	for _, id := range ids {
		job, err := q.Job(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, job.View())
	}
	return views, nil
}

// Requeue puts a failed job back on its original queue
func (q *Queue) Requeue(ctx context.Context, id string) (*Job, error) {
	job, err := q.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be requeued", id, job.Status)
	}

	meta, err := json.Marshal(Progress{Type: job.Meta.Type, Description: job.Description})
	if err != nil {
		return nil, err
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.failedKey(), 0, id)
		pipe.HDel(ctx, q.jobKey(id), fieldError, fieldWorker, fieldStartedAt, fieldEndedAt)
		pipe.HSet(ctx, q.jobKey(id), fieldStatus, string(StatusQueued), fieldMeta, meta)
		pipe.LPush(ctx, q.queueKey(job.Queue), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", id, err)
	}

	q.logger.WithFields(logrus.Fields{
		"job_id":   id,
		"queue":    job.Queue,
		"function": job.Func,
	}).Info("Requeued failed job")

	return q.Job(ctx, id)
}

// DeleteFailed removes a failed job entirely
func (q *Queue) DeleteFailed(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.failedKey(), 0, id)
		pipe.Del(ctx, q.jobKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// Pending counts queued jobs
func (q *Queue) Pending(ctx context.Context, queue string) (int64, error) {
	return q.rdb.LLen(ctx, q.queueKey(queue)).Result()
}

// registerWorker records a live worker; the record expires unless
// refreshed by heartbeat
func (q *Queue) registerWorker(ctx context.Context, name string, queues []string, ttl time.Duration) error {
	queuesJSON, err := json.Marshal(queues)
	if err != nil {
		return err
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, q.workersKey(), name)
		pipe.HSet(ctx, q.workerKey(name),
			"queues", queuesJSON,
			"state", "idle",
			"current_job", "",
			"heartbeat", strconv.FormatInt(time.Now().Unix(), 10),
		)
		pipe.Expire(ctx, q.workerKey(name), ttl)
		return nil
	})
	return err
}

func (q *Queue) heartbeat(ctx context.Context, name, state, jobID string, ttl time.Duration) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.workerKey(name),
			"state", state,
			"current_job", jobID,
			"heartbeat", strconv.FormatInt(time.Now().Unix(), 10),
		)
		pipe.Expire(ctx, q.workerKey(name), ttl)
		return nil
	})
	return err
}

func (q *Queue) unregisterWorker(ctx context.Context, name string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, q.workersKey(), name)
		pipe.Del(ctx, q.workerKey(name))
		return nil
	})
	return err
}

// Workers lists live workers with the progress of their current job
func (q *Queue) Workers(ctx context.Context) ([]WorkerInfo, error) {
	names, err := q.rdb.SMembers(ctx, q.workersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	workers := make([]WorkerInfo, 0, len(names))
	for _, name := range names {
		fields, err := q.rdb.HGetAll(ctx, q.workerKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load worker %s: %w", name, err)
		}
		if len(fields) == 0 {
			// Expired without unregistering
			q.rdb.SRem(ctx, q.workersKey(), name)
			continue
		}

		info := WorkerInfo{Name: name, State: fields["state"]}
		_ = json.Unmarshal([]byte(fields["queues"]), &info.Queues)
		if hb := parseUnix(fields["heartbeat"]); hb != nil {
			info.Heartbeat = *hb
		}

		if id := fields["current_job"]; id != "" {
			if job, err := q.Job(ctx, id); err == nil {
				view := job.View()
				info.CurrentJob = &view
			}
		}
		workers = append(workers, info)
	}
	return workers, nil
}

func parseUnix(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(seconds, 0)
	return &t
}
