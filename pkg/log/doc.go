/*
Package log provides structured logging for monagent using zerolog.

A single package-level zerolog.Logger is configured once at startup from the
agent configuration and shared by every component. Components derive child
loggers carrying a "component" field so that heartbeat, job and subscriber
output can be told apart in the same stream.

# Levels

  - debug: per-endpoint probe results, skipped clusters, event routing
  - info: agent lifecycle, job submission and completion
  - warn: failed jobs, degraded heartbeat rounds
  - error: heartbeat loop termination, status server failures

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

Component Loggers:

	busLog := log.WithComponent("bus")
	busLog.Info().Dur("period", period).Msg("heartbeat loop started")

	jobLog := log.WithJobID(busLog, jid, "ceph.get_cluster_object")
	jobLog.Warn().Err(err).Msg("job failed")

	clusterLog := log.WithCluster(busLog, "ceph")
	clusterLog.Debug().Err(err).Msg("cluster excluded from heartbeat")
*/
package log
