// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for partition checkpoints and unfilled units.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/units for the
//     run ledger via the store.RunRepository interface.
package api
