/*
Package types defines the core data structures shared by the monagent packages.

The agent watches the control-plane daemons of a storage cluster running on
the local host and reports what it sees as a stream of events. Every package
that produces or consumes those events works with the types defined here.

# Core Types

Cluster objects:
  - SyncType: the fixed set of objects the agent can fetch (mon_status,
    quorum_status, mon_map, osd_map, mds_map, pg_summary, health, config)
  - Version: an epoch (ordered) or a digest (equality only)
  - ClusterObjectRecord: one fetched object with its version
  - ClusterHeartbeat: the current version of every sync type for one cluster

Host state:
  - ServiceDescriptor: one daemon found through its admin socket
  - MonStatus: quorum membership of a mon
  - ServerHeartbeat: all local services, boot time and installed version

Jobs:
  - Job: an asynchronous command tracked by the event bus
  - JobStatus: pending, running (completed jobs leave the table)
  - JobResult: success flag and return value or formatted error

Events:
  - Event: tagged variant carrying exactly one payload
  - EventKind: heartbeat, job, server_heartbeat, running_jobs

# Versions

Epoch tokens come from counters maintained by the cluster itself and can be
ordered within a sync type:

	a := types.EpochVersion(41)
	b := types.EpochVersion(42)
	less, ok := a.Less(b) // true, true

Digest tokens are content hashes; two equal digests mean the content did not
change, but no ordering is implied:

	_, ok := types.DigestVersion("9e10...").Less(b) // ok == false

Both kinds serialize to JSON as a plain number or string.
*/
package types
