// Package api hosts the admin HTTP server that stands in for the front end:
// it manages products and writes refresh signals, and never writes samples.
// Notable routes:
//   - GET /healthz and /readyz for probes (readyz pings the store).
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/refresh and GET /v1/signal for the refresh mailbox.
//   - /v1/products for catalog management and price history.
package api
