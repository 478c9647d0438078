/*
Package api serves the agent's HTTP status endpoints.

The agent has no request-serving surface for the network model itself; it
is driven entirely by polling the northbound store. This package only
exposes its health for operators and orchestration:

	GET /health      liveness, always 200 while the process runs
	GET /ready       200 once the dataplane is up and the last cycle succeeded
	GET /components  per-component health from pkg/metrics
	GET /flows       programmed flows, one per line
	GET /metrics     Prometheus metrics

# Usage

	hs := api.NewHealthServer(rec, pipeline)
	go func() {
		if err := hs.Start(":9090"); err != nil {
			log.Error().Err(err).Msg("Health server failed")
		}
	}()
	defer hs.Shutdown(context.Background())

/ready reports 503 while the reconciler waits for the dataplane, before the
first cycle completes, and whenever the most recent cycle failed. The
response lists each check so an operator can see which one is holding
readiness back.
*/
package api
