// Package telemetry wires OpenTelemetry exporters and Prometheus metrics for
// the contract enforcement daemon.
//
// It centralises trace provider setup, applies service-level resource
// attributes, and offers enrichment helpers that attach decision and
// violation metadata to spans so operators can correlate denied actions
// with the contract versions that produced them.
package telemetry
