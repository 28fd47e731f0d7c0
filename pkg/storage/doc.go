/*
Package storage keeps the history of completed jobs in a local BoltDB file.

The event bus forgets a job as soon as it completes. The history lets an
operator look up the result of a job after the fact through the status
server, the way a minion keeps a cache of its job returns.

	┌──────────── <data_dir>/monagent.db ────────────┐
	│  bucket "jobs"                                 │
	│    key:   job id                               │
	│    value: JSON JobRecord{result, completed_at} │
	└────────────────────────────────────────────────┘

Records are written by the agent's event listener when a job event arrives
and pruned to the configured size after each write. Reads use db.View and
may run concurrently with writes.

Usage:

	store, err := storage.NewBoltStore("/var/lib/monagent")
	if err != nil {
		return err
	}
	defer store.Close()

	_ = store.SaveJobRecord(&storage.JobRecord{Result: *result, CompletedAt: time.Now()})
	_, _ = store.PruneJobRecords(1000)

Return values are stored as JSON, so a record read back carries the generic
decoded form of the job's return value.
*/
package storage
