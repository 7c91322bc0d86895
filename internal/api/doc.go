// Package api hosts the status HTTP server that runs alongside a harvest.
// Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ledger and /v1/ledger/{entity} for progress inspection.
package api
