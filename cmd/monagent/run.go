package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/monagent/pkg/api"
	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/metrics"
	"github.com/cuemby/monagent/pkg/storage"
	"github.com/cuemby/monagent/pkg/subscriber"
	"github.com/cuemby/monagent/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	Long: `Run the heartbeat loop and the job supervisor, serve the local status
endpoints and log every event until SIGINT or SIGTERM is received.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "How long to wait for running jobs on shutdown")
}

func runAgent(cmd *cobra.Command, args []string) error {
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
	logger := log.WithComponent("main")

	a, err := newAgent(cfg)
	if err != nil {
		return fmt.Errorf("failed to create agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("fqdn", a.fqdn).
		Str("socket_dir", cfg.SocketDir).
		Dur("heartbeat_period", cfg.HeartbeatPeriod).
		Msg("Starting agent")

	var store *storage.BoltStore
	if cfg.JobHistory > 0 {
		store, err = storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open job history: %v", err)
		}
		defer store.Close()
	}

	// Log every event through a subscriber
	sub := a.subscribe()
	handlers := loggingHandlers()
	if store != nil {
		handlers.OnJob = recordJobs(store, cfg.JobHistory, handlers.OnJob)
	}
	go func() {
		if err := sub.Listen(ctx, handlers); err != nil && !errors.Is(err, subscriber.ErrClosed) {
			logger.Error().Err(err).Msg("Event listener stopped")
		}
	}()

	a.bus.Start(ctx)

	collector := metrics.NewCollector(a.bus, 15*time.Second)
	collector.Start()

	var server *api.HealthServer
	errCh := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		var history api.JobHistory
		if store != nil {
			history = store
		}
		server = api.NewHealthServer(a.bus, history)
		go func() {
			if err := server.Start(cfg.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("status server error: %v", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case <-a.bus.Done():
		runErr = a.bus.Err()
	case runErr = <-errCh:
	}

	// Shutdown
	a.bus.Stop()
	<-a.bus.Done()
	sub.Close()
	collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Status server did not shut down cleanly")
		}
	}

	jobsDone := make(chan struct{})
	go func() {
		a.bus.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
	case <-shutdownCtx.Done():
		logger.Warn().Int("jobs", a.bus.JobCount()).Msg("Abandoning running jobs")
	}

	if runErr != nil {
		return runErr
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// loggingHandlers writes a log line per event
func loggingHandlers() subscriber.Handlers {
	logger := log.WithComponent("events")

	return subscriber.Handlers{
		OnHeartbeat: func(fqdn string, hb *types.ClusterHeartbeat) {
			clusterLog := log.WithCluster(logger, hb.Name)
			event := clusterLog.Info().Str("fsid", hb.ClusterID)
			for _, t := range types.SyncTypes {
				if v, ok := hb.Versions[t]; ok {
					event = event.Stringer(string(t), v)
				}
			}
			event.Msg("Cluster heartbeat")
		},
		OnServerHeartbeat: func(fqdn string, hb *types.ServerHeartbeat) {
			version := ""
			if hb.CephVersion != nil {
				version = *hb.CephVersion
			}
			logger.Debug().
				Int("services", len(hb.Services)).
				Int64("boot_time", hb.BootTime).
				Str("ceph_version", version).
				Msg("Server heartbeat")
		},
		OnJob: func(fqdn string, result *types.JobResult) {
			jobLogger := log.WithJobID(logger, result.JID, result.Command)
			if result.Success {
				jobLogger.Info().Msg("Job completed")
				return
			}
			jobLogger.Warn().Interface("return", result.Return).Msg("Job failed")
		},
		OnRunningJobs: func(fqdn string, jobs []types.RunningJob) {
			logger.Debug().Int("count", len(jobs)).Msg("Running jobs")
		},
	}
}

// recordJobs wraps a job handler so every completed job is also written to
// the history, which is then pruned to keep records
func recordJobs(store storage.Store, keep int, next func(string, *types.JobResult)) func(string, *types.JobResult) {
	logger := log.WithComponent("history")

	return func(fqdn string, result *types.JobResult) {
		if next != nil {
			next(fqdn, result)
		}

		record := &storage.JobRecord{Result: *result, CompletedAt: time.Now()}
		if err := store.SaveJobRecord(record); err != nil {
			logger.Warn().Err(err).Str("jid", result.JID).Msg("Failed to record job")
			return
		}
		if pruned, err := store.PruneJobRecords(keep); err != nil {
			logger.Warn().Err(err).Msg("Failed to prune job history")
		} else if pruned > 0 {
			logger.Debug().Int("pruned", pruned).Msg("Pruned job history")
		}
	}
}
