// Package metrics is the Prometheus side of the bridge.
//
// It owns a dedicated registry holding one gauge per exported device value,
// registered lazily on first update, plus the bridge's own operational
// metrics and the Go and process collectors. Nothing is registered with the
// global default registry.
package metrics
