// Package api hosts the HTTP server behind `linkpub serve`. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch to retrieve one link without publishing.
//   - POST /v1/links to run the full pipeline for one link.
package api
