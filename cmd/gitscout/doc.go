// Package main hosts the contributor email extraction service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the extraction endpoints. POST /extract validates the owner/repo
//     path, claims a job row via the StatusStore, and enqueues a run; GET /status/{repo_path} reports the job
//     state together with its contributors. Both are mounted at the root and under /v1 alongside the run
//     history endpoints.
//   - Dispatcher & queue: runs flow through a bounded in-memory queue sized by config.Extraction.QueueDepth
//     and are fanned out to a fixed runner pool sized by config.Extraction.Concurrency. Context cancellation
//     stops runners cleanly on shutdown.
//   - Mining: runners clone the target repository with go-git (bare, single branch) and aggregate contributors
//     from commit history, grouped by author name with commit counts and first/last commit dates.
//   - Resolution: each contributor is resolved to an email through tiered search surfaces. DBLP and arXiv are
//     probed first, then a DuckDuckGo HTML web search, and finally the papers collected along the way are
//     downloaded and scanned as PDF documents. Fetches run through the Colly probe fetcher with optional
//     promotion to headless Chromedp when the heuristic detector flags a thin page.
//   - Persistence & fanout: job and contributor rows live in Postgres, or in the in-memory store when no DSN
//     is configured. PDF evidence is archived to the configured BlobStore (memory/local/GCS) with an index row
//     in Postgres, and a compact Pub/Sub notification is published when a run finishes. Progress events are
//     buffered by the hub and delivered to the run history store, Prometheus, and development logs.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported via the telemetry middleware and /metrics handler; OpenTelemetry traces
//     span the run lifecycle.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed runner pool; headless fetches have their own semaphore inside
//     the Chromedp fetcher. Shutdown is coordinated via context cancellation propagated from main through the
//     dispatcher to runners.
//   - Rate limiting/backoff: outbound fetches honor the per-domain token bucket limiter and a capped
//     exponential retry loop; robots.txt is respected unless disabled.
//   - Observability: zap logs carry run IDs and repo paths at key transitions; Prometheus
//     counters/histograms track API and lookup activity; the progress hub batches run lifecycle events for
//     downstream sinks.
//
// Quick checklist:
//   - Configure env vars: GITSCOUT_SERVER_PORT, GITSCOUT_EXTRACTION_CONCURRENCY, GITSCOUT_MINER_BASE_URL,
//     GITSCOUT_RESOLVER_RESPECT_ROBOTS, GITSCOUT_HEADLESS_ENABLED, storage (GITSCOUT_STORAGE_*), pubsub, and
//     GITSCOUT_DB_DSN when persistence beyond memory is required.
//   - Run locally: go run ./cmd/gitscout -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: the container listens on the configured port, remains stateless across requests, and shuts
//     down cleanly on SIGTERM with in-flight work bounded by the per-run timeout.
package main
