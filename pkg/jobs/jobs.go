package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/monagent/pkg/agenterrors"
	"github.com/cuemby/monagent/pkg/cli"
	"github.com/cuemby/monagent/pkg/crush"
	"github.com/cuemby/monagent/pkg/fetcher"
	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/metrics"
	"github.com/cuemby/monagent/pkg/types"
)

// Command is the symbolic name of a job
type Command string

const (
	CmdGetClusterObject  Command = "ceph.get_cluster_object"
	CmdRadosCommands     Command = "ceph.rados_commands"
	CmdCephCommand       Command = "ceph.ceph_command"
	CmdRbdCommand        Command = "ceph.rbd_command"
	CmdClusterStats      Command = "ceph.cluster_stats"
	CmdPoolStats         Command = "ceph.pool_stats"
	CmdSelftestWait      Command = "selftest.wait"
	CmdSelftestException Command = "selftest.exception"
)

type handler func(ctx context.Context, args map[string]any) (any, error)

// Config holds job runner settings
type Config struct {
	// FQDN identifies this agent in job results
	FQDN string

	CephBin string
	RbdBin  string
}

// Runner executes named jobs against the local cluster
type Runner struct {
	config   Config
	fetcher  *fetcher.Fetcher
	cli      cli.Runner
	compiler crush.Compiler
	handlers map[Command]handler
	logger   zerolog.Logger
}

// New creates a job runner
func New(cfg Config, f *fetcher.Fetcher, runner cli.Runner, compiler crush.Compiler) *Runner {
	if cfg.CephBin == "" {
		cfg.CephBin = "ceph"
	}
	if cfg.RbdBin == "" {
		cfg.RbdBin = "rbd"
	}

	r := &Runner{
		config:   cfg,
		fetcher:  f,
		cli:      runner,
		compiler: compiler,
		logger:   log.WithComponent("jobs"),
	}
	r.handlers = map[Command]handler{
		CmdGetClusterObject:  r.getClusterObject,
		CmdRadosCommands:     r.radosCommands,
		CmdCephCommand:       r.cephCommand,
		CmdRbdCommand:        r.rbdCommand,
		CmdClusterStats:      r.clusterStats,
		CmdPoolStats:         r.poolStats,
		CmdSelftestWait:      selftestWait,
		CmdSelftestException: selftestException,
	}
	return r
}

// FQDN returns the agent identity stamped on results
func (r *Runner) FQDN() string {
	return r.config.FQDN
}

// Commands lists the supported command names, sorted
func (r *Runner) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Supports reports whether command names a known job
func (r *Runner) Supports(command string) bool {
	_, ok := r.handlers[Command(command)]
	return ok
}

// Execute runs one job and reports its outcome. It never panics and never
// returns an error: failures, including panics in the job itself, are
// reported with Success=false and the formatted error in Return.
func (r *Runner) Execute(ctx context.Context, command string, args map[string]any) (result types.JobResult) {
	logger := r.logger.With().Str("command", command).Logger()
	start := time.Now()

	result = types.JobResult{
		ID:      r.config.FQDN,
		Command: command,
		Args:    args,
	}

	defer func() {
		if p := recover(); p != nil {
			err := errors.Errorf("panic: %v", p)
			result.Success = false
			result.Return = fmt.Sprintf("%+v", err)
			result.Err = err
		}

		metrics.JobsCompleted.WithLabelValues(command, fmt.Sprint(result.Success)).Inc()
		metrics.JobDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())

		if result.Success {
			logger.Info().Dur("duration", time.Since(start)).Msg("Job succeeded")
		} else {
			logger.Warn().Err(result.Err).Dur("duration", time.Since(start)).Msg("Job failed")
		}
	}()

	h, ok := r.handlers[Command(command)]
	if !ok {
		err := errors.WithStack(&agenterrors.ErrUnsupportedCommand{Command: command})
		result.Return = fmt.Sprintf("%+v", err)
		result.Err = err
		return result
	}

	logger.Info().Interface("args", args).Msg("Running job")

	ret, err := h(ctx, args)
	if err != nil {
		result.Return = fmt.Sprintf("%+v", err)
		result.Err = err
		return result
	}

	result.Success = true
	result.Return = ret
	return result
}

func (r *Runner) getClusterObject(ctx context.Context, raw map[string]any) (any, error) {
	var args getClusterObjectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return r.fetcher.Fetch(ctx, args.ClusterName, types.SyncType(args.SyncType), sinceVersion(args.Since))
}

func (r *Runner) cephCommand(ctx context.Context, raw map[string]any) (any, error) {
	var args cephCommandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	argv := []string{r.config.CephBin}
	if args.ClusterName != "" {
		argv = append(argv, "--cluster", args.ClusterName)
	}
	argv = append(argv, args.Args...)

	return r.runCLI(ctx, argv)
}

func (r *Runner) rbdCommand(ctx context.Context, raw map[string]any) (any, error) {
	var args rbdCommandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	argv := []string{r.config.RbdBin}
	if args.PoolName != "" {
		argv = append(argv, "--pool", args.PoolName)
	}
	argv = append(argv, args.Args...)

	return r.runCLI(ctx, argv)
}

func (r *Runner) runCLI(ctx context.Context, argv []string) (any, error) {
	r.logger.Info().Strs("argv", argv).Msg("Running CLI command")
	out, err := r.cli.Run(ctx, argv, nil)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Strs("argv", argv).Int("status", out.Status).Msg("CLI command finished")
	return out, nil
}

func (r *Runner) clusterStats(ctx context.Context, raw map[string]any) (any, error) {
	var args clusterStatsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	df, err := r.df(ctx, args.ClusterName)
	if err != nil {
		return nil, err
	}
	return df["stats"], nil
}

func (r *Runner) poolStats(ctx context.Context, raw map[string]any) (any, error) {
	var args poolStatsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	df, err := r.df(ctx, args.ClusterName)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]map[string]any)
	var ordered []int64
	pools, _ := df["pools"].([]any)
	for _, p := range pools {
		pool, ok := p.(map[string]any)
		if !ok {
			continue
		}
		id, ok := pool["id"].(float64)
		if !ok {
			continue
		}
		stats, _ := pool["stats"].(map[string]any)
		entry := make(map[string]any, len(stats)+1)
		for k, v := range stats {
			entry[k] = v
		}
		entry["name"] = pool["name"]
		byID[int64(id)] = entry
		ordered = append(ordered, int64(id))
	}

	ids := args.PoolIDs
	if len(ids) == 0 {
		ids = ordered
	}

	result := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		entry, ok := byID[id]
		if !ok {
			return nil, errors.Errorf("pool lookup: no pool with id %d", id)
		}
		result = append(result, entry)
	}
	return result, nil
}

func (r *Runner) df(ctx context.Context, cluster string) (map[string]any, error) {
	session, err := r.fetcher.Connect(ctx, cluster)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return r.fetcher.Object(ctx, session, "df", nil)
}

func selftestWait(ctx context.Context, raw map[string]any) (any, error) {
	var args waitArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	t := time.NewTimer(time.Duration(args.Period * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func selftestException(ctx context.Context, raw map[string]any) (any, error) {
	return nil, errors.New("This is a self-test exception")
}
