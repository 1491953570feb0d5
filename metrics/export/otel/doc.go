// Package otel exports authcore engine metrics as OpenTelemetry observable
// instruments. Series names match the prometheus exporter.
package otel
