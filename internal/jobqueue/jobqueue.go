// Package jobqueue implements the worker pool described in spec.md §4.10:
// a fixed-size pool of workers pulling from jobstore.Store, dispatching to a
// type-keyed handler registry, each type independently circuit-broken, with
// progress surfaced on the event bus. Grounded on the teacher's background
// worker (internal/sdtprobe/worker.go) for the run-loop/cancellation shape.
package jobqueue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/breaker"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/jobstore"
	"github.com/medialibrarian/curator/internal/model"
)

var tracer = otel.Tracer("curator/jobqueue")

// Handler executes one job. Implementations must be idempotent or
// effectively-idempotent under at-least-once execution, and must check
// ctx periodically so cooperative cancellation can take effect.
type Handler func(ctx context.Context, job model.Job) error

// Config controls pool size, polling cadence, and per-type circuit breaking.
type Config struct {
	// Workers is the number of concurrent worker loops. Default: 5.
	Workers int

	// PollInterval is how long a worker sleeps after finding no pending job.
	// Default: 1s.
	PollInterval time.Duration

	// DefaultTimeout bounds a single handler invocation when no per-type
	// override is set. Default: 5m.
	DefaultTimeout time.Duration

	// TypeTimeouts overrides DefaultTimeout for specific job types.
	TypeTimeouts map[model.JobType]time.Duration

	// MaxConsecutiveFailures trips a type's circuit breaker. Default: 5.
	MaxConsecutiveFailures uint32

	// CircuitResetDelay is how long a tripped type's circuit stays open
	// before allowing a trial job through. Default: 1m.
	CircuitResetDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.CircuitResetDelay <= 0 {
		c.CircuitResetDelay = time.Minute
	}
}

func (c *Config) timeoutFor(t model.JobType) time.Duration {
	if d, ok := c.TypeTimeouts[t]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}

var (
	jobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_jobqueue_jobs_total",
		Help: "Jobs processed by the queue, partitioned by type and outcome.",
	}, []string{"type", "outcome"})
	activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curator_jobqueue_workers_busy",
		Help: "Workers currently executing a handler.",
	})
)

func init() {
	prometheus.MustRegister(jobsProcessed, activeWorkers)
}

// Service runs the worker pool.
type Service struct {
	store jobstore.Store
	bus   *eventbus.Bus
	cfg   Config

	mu       sync.Mutex
	handlers map[model.JobType]Handler
	breakers map[model.JobType]*breaker.Breaker
}

// New constructs a Service. bus may be nil (progress events are dropped).
func New(store jobstore.Store, bus *eventbus.Bus, cfg Config) *Service {
	cfg.setDefaults()
	return &Service{
		store:    store,
		bus:      bus,
		cfg:      cfg,
		handlers: make(map[model.JobType]Handler),
		breakers: make(map[model.JobType]*breaker.Breaker),
	}
}

// Register binds a handler to a job type. Call before Run.
func (s *Service) Register(jobType model.JobType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = h
	s.breakers[jobType] = breaker.New(string(jobType), breaker.Config{
		Threshold:    s.cfg.MaxConsecutiveFailures,
		ResetTimeout: s.cfg.CircuitResetDelay,
	})
}

func (s *Service) handlerFor(jobType model.JobType) (Handler, *breaker.Breaker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[jobType]
	if !ok {
		return nil, nil, false
	}
	return h, s.breakers[jobType], true
}

// Run starts cfg.Workers worker loops and blocks until ctx is cancelled.
// Callers typically run it in its own goroutine.
func (s *Service) Run(ctx context.Context) {
	log.Printf("jobqueue: starting %d workers (poll=%s, default-timeout=%s)",
		s.cfg.Workers, s.cfg.PollInterval, s.cfg.DefaultTimeout)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
	log.Print("jobqueue: all workers stopped")
}

func (s *Service) workerLoop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.store.PickNext(ctx)
		if err != nil {
			log.Printf("jobqueue: worker %d: pickNext error: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		s.dispatch(ctx, id, *job)
	}
}

func (s *Service) dispatch(ctx context.Context, workerID int, job model.Job) {
	ctx, span := tracer.Start(ctx, "jobqueue.dispatch",
		trace.WithAttributes(
			attribute.String("job.type", string(job.Type)),
			attribute.Int64("job.id", job.ID),
		))
	defer span.End()

	handler, cb, ok := s.handlerFor(job.Type)
	if !ok {
		log.Printf("jobqueue: worker %d: no handler for type=%s job=%d", workerID, job.Type, job.ID)
		err := apperr.Newf(apperr.JobNoHandler, "no handler registered for job type %q", job.Type)
		if abandonErr := s.store.Abandon(ctx, job.ID, err.Error()); abandonErr != nil {
			log.Printf("jobqueue: worker %d: abandon failed: %v", workerID, abandonErr)
		}
		s.publishState(job, "abandoned", err.Error())
		jobsProcessed.WithLabelValues(string(job.Type), "no_handler").Inc()
		span.SetStatus(codes.Error, err.Error())
		return
	}

	activeWorkers.Inc()
	defer activeWorkers.Dec()

	timeout := s.cfg.timeoutFor(job.Type)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execErr := cb.Execute(runCtx, func(ctx context.Context) error { return handler(ctx, job) })

	if execErr == nil {
		if err := s.store.Complete(ctx, job.ID); err != nil {
			log.Printf("jobqueue: worker %d: complete(%d) failed: %v", workerID, job.ID, err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		s.publishState(job, "completed", "")
		jobsProcessed.WithLabelValues(string(job.Type), "succeeded").Inc()
		span.SetStatus(codes.Ok, "")
		return
	}

	if runCtx.Err() == context.DeadlineExceeded {
		execErr = apperr.New(apperr.JobTimeout, fmt.Errorf("handler exceeded %s: %w", timeout, execErr))
	}

	log.Printf("jobqueue: worker %d: job %d (type=%s) failed: %v", workerID, job.ID, job.Type, execErr)
	if err := s.store.Fail(ctx, job.ID, execErr.Error()); err != nil {
		log.Printf("jobqueue: worker %d: fail(%d) bookkeeping error: %v", workerID, job.ID, err)
	}
	s.publishState(job, "failed", execErr.Error())
	jobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
	span.SetStatus(codes.Error, execErr.Error())
}

func (s *Service) publishState(job model.Job, state, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.TopicJobStateChange, JobStateEvent{
		JobID:  job.ID,
		Type:   job.Type,
		State:  state,
		Detail: detail,
	})
}

// JobStateEvent is published on eventbus.TopicJobStateChange for every
// terminal (or abandoned) job outcome.
type JobStateEvent struct {
	JobID  int64
	Type   model.JobType
	State  string
	Detail string
}
