package probe

import (
	"context"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/types"
)

// StatusReader reads the version summary of one cluster
type StatusReader interface {
	Status(ctx context.Context, cluster string) (*types.ClusterHeartbeat, error)
}

// Round is everything one heartbeat round reports
type Round struct {
	Server   *types.ServerHeartbeat
	Clusters map[string]*types.ClusterHeartbeat

	// Skipped collects the endpoints and clusters left out of the round
	Skipped *multierror.Error
}

// Heartbeater combines local daemon probing with cluster status queries
type Heartbeater struct {
	prober *Prober
	status StatusReader
}

// NewHeartbeater creates a heartbeat source
func NewHeartbeater(prober *Prober, status StatusReader) *Heartbeater {
	return &Heartbeater{prober: prober, status: status}
}

// Heartbeat probes local daemons, then reads the status of every cluster that
// has an in-quorum mon on this host. A cluster that cannot be read is left out.
func (h *Heartbeater) Heartbeat(ctx context.Context) (*Round, error) {
	probed, err := h.prober.Probe(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "probe local services")
	}

	round := &Round{
		Server:   probed.Server,
		Clusters: make(map[string]*types.ClusterHeartbeat),
		Skipped:  probed.Skipped,
	}

	fsids := make([]string, 0, len(probed.QuorumClusters))
	for fsid := range probed.QuorumClusters {
		fsids = append(fsids, fsid)
	}
	sort.Strings(fsids)

	for _, fsid := range fsids {
		name := probed.QuorumClusters[fsid]
		hb, err := h.status.Status(ctx, name)
		if err != nil {
			logger := log.WithCluster(h.prober.logger, name)
			logger.Debug().Err(err).Msg("Excluding cluster from heartbeat")
			round.Skipped = multierror.Append(round.Skipped, errors.Wrapf(err, "cluster %s", name))
			continue
		}
		round.Clusters[fsid] = hb
	}

	return round, nil
}
