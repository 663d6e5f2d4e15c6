// Package api hosts the HTTP server, middleware, and REST handlers for the
// extraction service. Notable routes:
//   - POST /extract and GET /status/{repo_path} for submission and polling
//     (also mounted under /v1).
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{id}/surfaces for run history via the
//     RunRepository interface.
package api
