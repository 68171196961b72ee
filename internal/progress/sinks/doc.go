// Package sinks implements concrete snapshot consumers such as Prometheus
// and structured logging. Each sink satisfies the progress.Sink interface
// and must stay non-blocking.
package sinks
