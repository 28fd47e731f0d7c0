/*
Package api serves the agent's local HTTP status endpoints.

The endpoints are meant for the host operator and for probes, not for the
controller: the controller talks to the agent through the event bus.

	GET /health   component health, 503 when any component is unhealthy
	GET /ready    readiness, 503 until the event bus is running
	GET /live     liveness, always 200
	GET /metrics  Prometheus metrics
	GET /jobs     snapshot of the pending and running jobs
	GET /jobs/running        job ids in the table, also sent to subscribers
	GET /jobs/history        completed jobs, most recent first
	GET /jobs/history/{jid}  one completed job

The server is read-only. Requests with any method other than GET, HEAD or
OPTIONS are rejected with 405 by the ReadOnly middleware.

Usage:

	hs := api.NewHealthServer(eventBus, store)
	go func() {
		if err := hs.Start("127.0.0.1:9284"); err != nil {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()
	defer hs.Shutdown(context.Background())
*/
package api
