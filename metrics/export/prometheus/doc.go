// Package prometheus renders goHook engine metrics in Prometheus text
// exposition format.
//
// Counters are named gohook_*_total and latency histograms
// gohook_*_latency_seconds. The exporter never touches a global registry;
// callers mount Handler wherever they serve metrics.
package prometheus
