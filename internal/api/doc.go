// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources to list the registry with scheduling state.
//   - POST /v1/runs and POST /v1/sources/{source_id}/run to queue ingestion
//     runs, GET /v1/runs/{run_id} to poll them.
//   - POST /v1/sources/{source_id}/test for a dry-run preview.
//   - GET /v1/proposals for benchmark proposal history.
package api
