// Package metrics exposes workflow and transport counters in the Prometheus
// text exposition format.
package metrics
