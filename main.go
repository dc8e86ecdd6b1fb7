// The main package for the evidence-ingest executable.
//
// Architecture overview:
//   - Sources: a YAML registry (internal/sources) lists the external sources, each bound to a
//     connector (internal/connector) whose scrape method selects heuristic, feed or oracle extraction.
//   - Fetch: the Colly-based fetcher (internal/fetcher/colly) checks robots.txt through a TTL cache,
//     applies the per-source politeness delay, retries transient failures with backoff and encodes
//     every failure in the fetch result.
//   - Orchestration: internal/orchestrator runs connectors on a bounded worker pool, dedups and
//     stores evidence, updates source checkpoints and runs change, benchmark, trend and alert passes.
//   - Persistence: memory or Postgres (pgx + goose migrations); raw snapshots go to memory, local
//     disk or GCS; alerts go to memory or Pub/Sub.
//   - Surfaces: the Cobra CLI in cmd/ and the chi HTTP API in internal/api (served by `serve`).
package main

import (
	"github.com/JakeFAU/evidence-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
