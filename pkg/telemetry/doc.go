// Package telemetry wires OpenTelemetry exporters and meters for txguard.
//
// It centralises trace provider setup and offers recording helpers that count
// policy decisions, typed-data inspections and pre-flight recommendations, and
// attach risk findings to spans so operators can correlate verdicts with the
// requests that produced them.
package telemetry
