package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/calypsold/internal/observability"
	"github.com/rs/zerolog/log"
)

var ErrQueueClosed = errors.New("trigger: queue closed")

// Job is one unit of background work.
type Job func(ctx context.Context) error

type queued struct {
	name string
	job  Job
}

// Queue runs submitted jobs one at a time on a single worker. Submit never
// blocks: a full queue drops the job.
type Queue struct {
	jobs    chan queued
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewQueue(size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		jobs:    make(chan queued, size),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Submit(name string, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- queued{name: name, job: job}:
		return nil
	default:
		return fmt.Errorf("trigger: queue full, dropped %s", name)
	}
}

// Close stops intake and waits for already queued jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for item := range q.jobs {
		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if q.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
		}
		if err := item.job(ctx); err != nil {
			log.Warn().Str("job", item.name).Err(err).Msg("trigger.Queue job failed")
		}
		cancel()
	}
}

// Dispatcher submits jumps to a Queue so the caller never waits on them.
type Dispatcher struct {
	backend Backend
	jumper  Jumper
	queue   *Queue
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	cfg = cfg.WithDefaults()
	jumper, err := NewJumper(cfg)
	if err != nil {
		return nil, err
	}
	return NewDispatcherWith(cfg.Backend, jumper, NewQueue(cfg.QueueSize, cfg.Timeout)), nil
}

func NewDispatcherWith(backend Backend, jumper Jumper, queue *Queue) *Dispatcher {
	return &Dispatcher{backend: backend, jumper: jumper, queue: queue}
}

// Fire schedules a jump to addr and returns immediately. Failures are
// logged, never retried.
func (d *Dispatcher) Fire(addr uint32) {
	name := fmt.Sprintf("jump %#x", addr)
	err := d.queue.Submit(name, func(ctx context.Context) error {
		log.Info().
			Str("backend", string(d.backend)).
			Str("addr", fmt.Sprintf("%#x", addr)).
			Msg("trigger.Dispatcher jump")
		if err := d.jumper.Jump(ctx, addr); err != nil {
			observability.RecordJump(string(d.backend), "failed")
			return err
		}
		observability.RecordJump(string(d.backend), "started")
		return nil
	})
	if err != nil {
		observability.RecordJump(string(d.backend), "dropped")
		log.Warn().Str("addr", fmt.Sprintf("%#x", addr)).Err(err).Msg("trigger.Dispatcher fire dropped")
	}
}

func (d *Dispatcher) Close() {
	d.queue.Close()
}
