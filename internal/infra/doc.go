// Package infra provides the dev backend's connections to the outside
// world: structured logging, the OTLP tracer, and the gorm database handle.
package infra
