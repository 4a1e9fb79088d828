// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/books to submit a job, GET /v1/books/{job_id} to poll it.
//   - GET /v1/books/{job_id}/events for a server-sent progress stream.
//   - GET /v1/books/{job_id}/download to fetch the artifact once.
//   - GET /v1/sites and /v1/runs for supported sites and recent run history.
package api
