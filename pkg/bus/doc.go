/*
Package bus implements the agent's event bus: the heartbeat loop, the job
table and the fan-out of events to subscribers.

The bus has two roles that run concurrently.

The heartbeat role runs one round per period. A round probes the local
daemons, emits a ServerHeartbeat event and, when at least one cluster has an
in-quorum mon on this host, a Heartbeat event mapping cluster fsid to that
cluster's version summary. The period is measured from the start of one round
to the start of the next; a round that overruns the period is followed
immediately by the next one. Endpoints or clusters that fail are left out of
the round and logged at debug level. A failure of the round as a whole ends
the loop: Run returns the error and the bus stops.

The job role accepts Submit calls. Each job gets a fresh UUID, is recorded as
pending and runs in its own goroutine. When it completes it is removed from
the job table and then its result is emitted as a Job event, so a job id
is never listed by RunningJobs after its completion event. Jobs are not
limited unless Config.MaxConcurrentJobs is set, and they cannot be cancelled.

Events are delivered to every registered Sink whose Interest is above zero.
Delivery never blocks: sinks are expected to queue without bound.

	b := bus.New(bus.Config{HeartbeatPeriod: 10 * time.Second}, runner, heartbeater)
	b.Start(ctx)
	defer b.Stop()

	jid, err := b.Submit("ceph.get_cluster_object", map[string]any{
		"cluster_name": "ceph",
		"sync_type":    "osd_map",
	})

The job table and the subscriber registry are guarded by one RWMutex.
*/
package bus
