// Package subscriber is the per-caller handle on the event bus. A Subscriber
// queues every event the bus fans out to it while at least one Listen call is
// active, and dispatches the events to caller supplied handlers.
package subscriber

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	infinity "github.com/Code-Hex/go-infinity-channel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/monagent/pkg/agenterrors"
	"github.com/cuemby/monagent/pkg/bus"
	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/types"
)

// ErrClosed is returned by Listen once the subscriber has been closed
var ErrClosed = errors.New("subscriber closed")

// EventBus is the part of the bus a subscriber depends on
type EventBus interface {
	Register(sink bus.Sink)
	Unregister(sink bus.Sink)
	Submit(command string, args map[string]any) (string, error)
	RunningJobs() []types.RunningJob
	HeartbeatPeriod() time.Duration
}

// JobRunner runs jobs synchronously
type JobRunner interface {
	Execute(ctx context.Context, command string, args map[string]any) types.JobResult
}

// Handlers receive the unpacked payload of each event kind. A nil handler
// drops events of its kind.
type Handlers struct {
	// ClusterID limits OnHeartbeat to one cluster when set
	ClusterID string

	OnHeartbeat       func(fqdn string, heartbeat *types.ClusterHeartbeat)
	OnServerHeartbeat func(fqdn string, heartbeat *types.ServerHeartbeat)
	OnJob             func(fqdn string, result *types.JobResult)
	OnRunningJobs     func(fqdn string, jobs []types.RunningJob)
}

// Subscriber receives events from a bus and submits jobs to it
type Subscriber struct {
	bus    EventBus
	fqdn   string
	runner JobRunner
	logger zerolog.Logger

	inbox    *infinity.Channel[*types.Event]
	interest atomic.Int32

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a subscriber and registers it with b. It receives nothing until
// Listen is called.
func New(b EventBus, fqdn string, runner JobRunner) *Subscriber {
	s := &Subscriber{
		bus:    b,
		fqdn:   fqdn,
		runner: runner,
		logger: log.WithComponent("subscriber"),
		inbox:  infinity.NewChannel[*types.Event](),
	}
	b.Register(s)
	return s
}

// Interest returns the number of active Listen calls
func (s *Subscriber) Interest() int32 {
	return s.interest.Load()
}

// Deliver queues an event. Events delivered after Close are dropped.
func (s *Subscriber) Deliver(event *types.Event) {
	if s.closed.Load() {
		return
	}
	s.inbox.In() <- event
}

// Pending returns the number of queued events
func (s *Subscriber) Pending() int {
	return s.inbox.Len()
}

// FQDN returns the identity of the local agent
func (s *Subscriber) FQDN() string {
	return s.fqdn
}

// HeartbeatPeriod returns the bus heartbeat period
func (s *Subscriber) HeartbeatPeriod() time.Duration {
	return s.bus.HeartbeatPeriod()
}

// Listen dispatches queued events to h until ctx is done or the subscriber is
// closed. An empty inbox is not an error; Listen simply waits.
func (s *Subscriber) Listen(ctx context.Context, h Handlers) error {
	s.interest.Add(1)
	defer s.interest.Add(-1)

	out := s.inbox.Out()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-out:
			if !ok {
				return ErrClosed
			}
			s.dispatch(event, h)
		}
	}
}

func (s *Subscriber) dispatch(event *types.Event, h Handlers) {
	switch event.Kind {
	case types.EventHeartbeat:
		if h.OnHeartbeat == nil {
			return
		}
		for fsid, heartbeat := range event.Heartbeat {
			if h.ClusterID != "" && fsid != h.ClusterID {
				continue
			}
			h.OnHeartbeat(s.fqdn, heartbeat)
		}
	case types.EventServerHeartbeat:
		if h.OnServerHeartbeat != nil {
			h.OnServerHeartbeat(s.fqdn, event.ServerHeartbeat)
		}
	case types.EventJob:
		if h.OnJob != nil {
			h.OnJob(s.fqdn, event.Job)
		}
	case types.EventRunningJobs:
		if h.OnRunningJobs != nil {
			h.OnRunningJobs(s.fqdn, event.RunningJobs)
		}
	default:
		s.logger.Warn().Str("kind", string(event.Kind)).Msg("Dropping event of unknown kind")
	}
}

// RunSync runs a job to completion without going through the bus. The job's
// own failure is reported in the result, not as an error.
func (s *Subscriber) RunSync(ctx context.Context, fqdn, command string, args map[string]any) (types.JobResult, error) {
	if err := s.checkTarget(fqdn); err != nil {
		return types.JobResult{}, err
	}
	return s.runner.Execute(ctx, command, args), nil
}

// RunAsync submits a job to the bus and returns its id. The result arrives as
// a job event.
func (s *Subscriber) RunAsync(fqdn, command string, args map[string]any) (string, error) {
	if err := s.checkTarget(fqdn); err != nil {
		return "", err
	}
	return s.bus.Submit(command, args)
}

// GetRunning asks the bus of the agent at fqdn for its running jobs. The
// list is returned and also arrives as a running jobs event.
func (s *Subscriber) GetRunning(fqdn string) ([]types.RunningJob, error) {
	if err := s.checkTarget(fqdn); err != nil {
		return nil, err
	}
	return s.bus.RunningJobs(), nil
}

func (s *Subscriber) checkTarget(fqdn string) error {
	if fqdn != s.fqdn {
		return errors.WithStack(&agenterrors.ErrAgentUnreachable{Target: fqdn, Local: s.fqdn})
	}
	return nil
}

// RemoteMetadata returns host metadata keyed by fqdn. Only the local agent
// can be described; other agents map to an empty entry.
func (s *Subscriber) RemoteMetadata(fqdns []string) map[string]map[string]any {
	result := make(map[string]map[string]any, len(fqdns))
	for _, fqdn := range fqdns {
		if fqdn != s.fqdn {
			result[fqdn] = map[string]any{}
			continue
		}
		hostname, err := os.Hostname()
		if err != nil {
			s.logger.Debug().Err(err).Msg("Failed to read hostname")
		}
		result[fqdn] = map[string]any{
			"host": hostname,
			"fqdn": s.fqdn,
		}
	}
	return result
}

// Close unregisters from the bus and releases the inbox. Pending Listen calls
// return ErrClosed once the queued events are drained.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.bus.Unregister(s)
		s.closed.Store(true)
		s.inbox.Close()
	})
}
