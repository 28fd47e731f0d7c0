package bus

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/monagent/pkg/agenterrors"
	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/metrics"
	"github.com/cuemby/monagent/pkg/probe"
	"github.com/cuemby/monagent/pkg/types"
)

// Sink receives events fanned out by the bus
type Sink interface {
	// Interest reports how many listeners are consuming; zero means the
	// sink is skipped
	Interest() int32

	// Deliver enqueues an event. It must not block.
	Deliver(event *types.Event)
}

// JobRunner executes jobs submitted to the bus
type JobRunner interface {
	Execute(ctx context.Context, command string, args map[string]any) types.JobResult
	Supports(command string) bool
}

// HeartbeatSource produces one heartbeat round
type HeartbeatSource interface {
	Heartbeat(ctx context.Context) (*probe.Round, error)
}

// Config holds event bus settings
type Config struct {
	// HeartbeatPeriod is measured from the start of one round to the start
	// of the next
	HeartbeatPeriod time.Duration

	// MaxConcurrentJobs bounds running jobs; 0 means unbounded. Jobs over
	// the limit stay pending until a slot frees.
	MaxConcurrentJobs int64
}

// DefaultConfig returns the default bus settings
func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod: 10 * time.Second,
	}
}

// Bus runs the heartbeat loop, supervises jobs and fans events out to sinks
type Bus struct {
	config Config
	runner JobRunner
	source HeartbeatSource
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[Sink]struct{}
	jobs        map[string]*types.Job

	slots   *semaphore.Weighted
	jobsWG  sync.WaitGroup
	stopped atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	err       error
}

// New creates an event bus. The heartbeat loop does not run until Start or
// Run is called.
func New(cfg Config, runner JobRunner, source HeartbeatSource) *Bus {
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = DefaultConfig().HeartbeatPeriod
	}

	b := &Bus{
		config:      cfg,
		runner:      runner,
		source:      source,
		logger:      log.WithComponent("bus"),
		subscribers: make(map[Sink]struct{}),
		jobs:        make(map[string]*types.Job),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	if cfg.MaxConcurrentJobs > 0 {
		b.slots = semaphore.NewWeighted(cfg.MaxConcurrentJobs)
	}
	return b
}

// HeartbeatPeriod returns the configured period
func (b *Bus) HeartbeatPeriod() time.Duration {
	return b.config.HeartbeatPeriod
}

// Start launches the heartbeat loop in the background. Calling it again
// has no effect.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		metrics.RegisterComponent("bus", true, "")
		go func() {
			defer close(b.doneCh)
			b.err = b.heartbeatLoop(ctx)
			if b.err != nil {
				b.logger.Error().Err(b.err).Msg("Heartbeat loop failed")
				metrics.UpdateComponent("bus", false, b.err.Error())
			} else {
				metrics.UpdateComponent("bus", false, "stopped")
			}
		}()
	})
}

// Run starts the bus if needed and blocks until the heartbeat loop ends.
// It returns nil after Stop or context cancellation, and the failure that
// terminated the loop otherwise.
func (b *Bus) Run(ctx context.Context) error {
	b.Start(ctx)
	<-b.doneCh
	return b.err
}

// Stop signals the heartbeat loop to exit. Running jobs are not cancelled.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.stopCh)
	})
}

// Done is closed once the heartbeat loop has exited
func (b *Bus) Done() <-chan struct{} {
	return b.doneCh
}

// Err returns the failure that terminated the heartbeat loop, if any
func (b *Bus) Err() error {
	select {
	case <-b.doneCh:
		return b.err
	default:
		return nil
	}
}

// Wait blocks until every submitted job has completed
func (b *Bus) Wait() {
	b.jobsWG.Wait()
}

func (b *Bus) heartbeatLoop(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("heartbeat loop panic: %v", p)
		}
	}()

	b.logger.Info().Dur("period", b.config.HeartbeatPeriod).Msg("Heartbeat loop started")
	defer b.logger.Info().Msg("Heartbeat loop stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-b.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}

		start := time.Now()
		if err := b.heartbeat(ctx); err != nil {
			if b.stopped.Load() || ctx.Err() != nil {
				return nil
			}
			return err
		}

		wait := b.config.HeartbeatPeriod - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// heartbeat runs one round and emits its events
func (b *Bus) heartbeat(ctx context.Context) error {
	timer := metrics.NewTimer()
	round, err := b.source.Heartbeat(ctx)
	timer.ObserveDuration(metrics.HeartbeatDuration)
	if err != nil {
		return err
	}

	if round.Skipped != nil {
		b.logger.Debug().Err(round.Skipped).Msg("Heartbeat round was partial")
	}

	// A round that straddles Stop is dropped
	if b.stopped.Load() || ctx.Err() != nil {
		return nil
	}

	if round.Server != nil {
		metrics.ServicesProbed.Set(float64(len(round.Server.Services)))
		b.Emit(types.NewServerHeartbeatEvent(round.Server))
	}
	if len(round.Clusters) > 0 {
		b.Emit(types.NewHeartbeatEvent(round.Clusters))
	}

	b.logger.Debug().
		Int("services", serviceCount(round)).
		Int("clusters", len(round.Clusters)).
		Dur("duration", timer.Duration()).
		Msg("Heartbeat round completed")
	return nil
}

func serviceCount(round *probe.Round) int {
	if round.Server == nil {
		return 0
	}
	return len(round.Server.Services)
}

// Submit starts a job in the background and returns its id. The result is
// emitted as a Job event once the job completes.
func (b *Bus) Submit(command string, args map[string]any) (string, error) {
	if !b.runner.Supports(command) {
		return "", errors.WithStack(&agenterrors.ErrUnsupportedCommand{Command: command})
	}

	job := &types.Job{
		Command:   command,
		Args:      args,
		Status:    types.JobStatusPending,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	for {
		job.ID = uuid.NewString()
		if _, taken := b.jobs[job.ID]; !taken {
			break
		}
	}
	b.jobs[job.ID] = job
	metrics.JobsRunning.Set(float64(len(b.jobs)))
	b.mu.Unlock()

	jobLog := log.WithJobID(b.logger, job.ID, command)
	jobLog.Info().Msg("Job submitted")

	b.jobsWG.Add(1)
	go b.runJob(job.ID, command, args)

	return job.ID, nil
}

func (b *Bus) runJob(jid, command string, args map[string]any) {
	defer b.jobsWG.Done()

	ctx := context.Background()
	if b.slots != nil {
		// Acquire cannot fail on a context that is never cancelled
		_ = b.slots.Acquire(ctx, 1)
		defer b.slots.Release(1)
	}

	b.mu.Lock()
	if job, ok := b.jobs[jid]; ok {
		job.Status = types.JobStatusRunning
		job.StartedAt = time.Now()
	}
	b.mu.Unlock()

	result := b.runner.Execute(ctx, command, args)
	result.JID = jid

	// The job leaves the table before its completion is visible
	b.mu.Lock()
	delete(b.jobs, jid)
	metrics.JobsRunning.Set(float64(len(b.jobs)))
	b.mu.Unlock()

	b.Emit(types.NewJobEvent(&result))
}

// RunningJobs emits a RunningJobs event listing the jobs in the table and
// returns the same list
func (b *Bus) RunningJobs() []types.RunningJob {
	b.mu.RLock()
	running := make([]types.RunningJob, 0, len(b.jobs))
	for jid := range b.jobs {
		running = append(running, types.RunningJob{JID: jid})
	}
	b.mu.RUnlock()

	sort.Slice(running, func(i, j int) bool { return running[i].JID < running[j].JID })
	b.Emit(types.NewRunningJobsEvent(running))
	return running
}

// Jobs returns a snapshot of the job table ordered by creation time
func (b *Bus) Jobs() []types.Job {
	b.mu.RLock()
	jobs := make([]types.Job, 0, len(b.jobs))
	for _, job := range b.jobs {
		jobs = append(jobs, *job)
	}
	b.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// JobCount returns the number of pending and running jobs
func (b *Bus) JobCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jobs)
}

// Register adds a sink to the fan-out. Registering twice has no effect.
func (b *Bus) Register(sink Sink) {
	b.mu.Lock()
	b.subscribers[sink] = struct{}{}
	metrics.Subscribers.Set(float64(len(b.subscribers)))
	b.mu.Unlock()
}

// Unregister removes a sink. Once it returns the sink receives no more events.
func (b *Bus) Unregister(sink Sink) {
	b.mu.Lock()
	delete(b.subscribers, sink)
	metrics.Subscribers.Set(float64(len(b.subscribers)))
	b.mu.Unlock()
}

// SubscriberCount returns the number of registered sinks
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Emit delivers event to every sink with nonzero interest
func (b *Bus) Emit(event *types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sink := range b.subscribers {
		if sink.Interest() > 0 {
			sink.Deliver(event)
		}
	}
	metrics.EventsEmitted.WithLabelValues(string(event.Kind)).Inc()
}
