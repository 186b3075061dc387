// Package api serves the bridge's HTTP listener.
//
// It exposes:
//   - the Prometheus scrape endpoint (default /metrics) and single-metric
//     lookups below it
//   - /api/v1/health with the same summary published on the health topic
//   - /api/v1/system with Go runtime and database statistics
//   - /api/v1/writables listing the cached write constraints
//   - /api/v1/audit listing recent write requests when the audit trail is enabled
//
// The listener only reads bridge state; write requests arrive over MQTT.
package api
