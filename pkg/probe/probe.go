package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/monagent/pkg/adminsocket"
	"github.com/cuemby/monagent/pkg/cli"
	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/types"
)

// Config holds prober settings
type Config struct {
	// SocketDir is scanned for *.asok admin sockets
	SocketDir string

	// CephBin is the ceph CLI used to read the installed version
	CephBin string

	// ProcStat is read for the host boot time
	ProcStat string
}

// DefaultConfig returns the stock Ceph and Linux locations
func DefaultConfig() Config {
	return Config{
		SocketDir: "/var/run/ceph",
		CephBin:   "ceph",
		ProcStat:  "/proc/stat",
	}
}

// Prober interrogates the Ceph daemons running on this host
type Prober struct {
	config    Config
	requester adminsocket.Requester
	runner    cli.Runner
	logger    zerolog.Logger
}

// Result is the outcome of one probe round
type Result struct {
	Server *types.ServerHeartbeat

	// QuorumClusters maps the fsid of every cluster with an in-quorum local
	// mon to that cluster's name
	QuorumClusters map[string]string

	// Skipped collects the per-endpoint failures of the round
	Skipped *multierror.Error
}

// New creates a new prober
func New(cfg Config, requester adminsocket.Requester, runner cli.Runner) *Prober {
	defaults := DefaultConfig()
	if cfg.SocketDir == "" {
		cfg.SocketDir = defaults.SocketDir
	}
	if cfg.CephBin == "" {
		cfg.CephBin = defaults.CephBin
	}
	if cfg.ProcStat == "" {
		cfg.ProcStat = defaults.ProcStat
	}
	return &Prober{
		config:    cfg,
		requester: requester,
		runner:    runner,
		logger:    log.WithComponent("probe"),
	}
}

// Probe queries every local admin socket and assembles a server heartbeat.
// Unresponsive or stale sockets are left out of the report. The returned
// error is reserved for failures that affect the whole round.
func (p *Prober) Probe(ctx context.Context) (*Result, error) {
	paths, err := adminsocket.List(p.config.SocketDir)
	if err != nil {
		return nil, errors.Wrap(err, "list admin sockets")
	}

	result := &Result{
		Server: &types.ServerHeartbeat{
			Services: make(map[string]*types.ServiceDescriptor),
		},
		QuorumClusters: make(map[string]string),
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		svc, err := p.Service(ctx, path)
		if err != nil {
			p.logger.Debug().Err(err).Str("socket", path).Msg("Excluding unresponsive service")
			result.Skipped = multierror.Append(result.Skipped, err)
			continue
		}

		result.Server.Services[svc.Name()] = svc
		if svc.InQuorum() {
			result.QuorumClusters[svc.ClusterID] = svc.Cluster
		}
	}

	bootTime, err := BootTime(p.config.ProcStat)
	if err != nil {
		return nil, err
	}
	result.Server.BootTime = bootTime
	result.Server.CephVersion = p.CephVersion(ctx)

	return result, nil
}

// Service learns the cluster id, mon status and running version of the
// daemon behind one admin socket
func (p *Prober) Service(ctx context.Context, path string) (*types.ServiceDescriptor, error) {
	endpoint, ok := adminsocket.ParseName(path)
	if !ok {
		return nil, errors.Errorf("unrecognized admin socket name %s", path)
	}

	svc := &types.ServiceDescriptor{
		Cluster: endpoint.Cluster,
		Type:    endpoint.Type,
		ID:      endpoint.ID,
	}

	var config struct {
		FSID string `json:"fsid"`
	}
	if err := p.request(ctx, path, []string{"config", "get", "fsid"}, &config); err != nil {
		return nil, err
	}
	svc.ClusterID = config.FSID

	// Out of quorum mons do not show up in cluster heartbeats, so their
	// status travels with the service
	if svc.Type == "mon" {
		var status types.MonStatus
		if err := p.request(ctx, path, []string{"mon_status"}, &status); err != nil {
			return nil, err
		}
		svc.Status = &status
	}

	var version struct {
		Version string `json:"version"`
	}
	if err := p.request(ctx, path, []string{"version"}, &version); err != nil {
		return nil, err
	}
	svc.Version = version.Version

	return svc, nil
}

func (p *Prober) request(ctx context.Context, path string, cmd []string, v any) error {
	raw, err := p.requester.Request(ctx, path, cmd)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "decode %q from %s", strings.Join(cmd, " "), path)
	}
	return nil
}

// CephVersion returns the installed Ceph version, as opposed to the version
// each daemon is running, or nil when the CLI is unavailable
func (p *Prober) CephVersion(ctx context.Context) *string {
	out, err := p.runner.Run(ctx, []string{p.config.CephBin, "--version"}, nil)
	if err != nil || out.Status != 0 {
		p.logger.Debug().Err(err).Int("status", out.Status).Msg("Cannot read installed ceph version")
		return nil
	}
	// ceph version 17.2.6 (d7ff0d10654d2280e08f1ab989c7cdf3064446a5) quincy (stable)
	fields := strings.Split(strings.TrimSpace(out.Stdout), " ")
	if len(fields) < 3 {
		return nil
	}
	return &fields[2]
}

// BootTime reads the btime line of /proc/stat: the boot time in seconds since
// the epoch
func BootTime(procStat string) (int64, error) {
	f, err := os.Open(procStat)
	if err != nil {
		return 0, errors.Wrap(err, "read boot time")
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 2 && fields[0] == "btime" {
			btime, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, errors.Wrap(err, "parse boot time")
			}
			return btime, nil
		}
	}
	if err := s.Err(); err != nil {
		return 0, errors.Wrap(err, "read boot time")
	}
	return 0, errors.Errorf("no btime line in %s", procStat)
}
