/*
Package metrics provides Prometheus metrics and component health reporting for
the monitoring agent.

All metrics are registered with the default Prometheus registry at package
init and exposed by Handler, which the status server mounts at /metrics.

# Metrics

Event bus:

	monagent_events_emitted_total{kind}     counter    events fanned out, by event kind
	monagent_subscribers                    gauge      registered subscribers

Jobs:

	monagent_jobs_running                   gauge      jobs pending or running
	monagent_jobs_completed_total{command,success}
	                                        counter    finished jobs
	monagent_job_duration_seconds{command}  histogram  job execution time

Heartbeat:

	monagent_heartbeat_duration_seconds     histogram  time taken by one round
	monagent_services_probed                gauge      local daemons that answered

The bus updates its gauges as jobs and subscribers come and go; a Collector
additionally resamples them on an interval so they stay correct if an update
is missed.

# Timing

	timer := metrics.NewTimer()
	round, err := source.Heartbeat(ctx)
	timer.ObserveDuration(metrics.HeartbeatDuration)

# Health

Components report their state with RegisterComponent and UpdateComponent.
GetHealth is unhealthy as soon as one component is; GetReadiness additionally
requires every critical component (by default only "bus") to be registered.
HealthHandler, ReadyHandler and LivenessHandler serve these as JSON with a 503
status code when the check fails.

	metrics.RegisterComponent("bus", true, "")
	defer metrics.UpdateComponent("bus", false, "stopped")
*/
package metrics
