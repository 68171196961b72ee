// Package progress fans task snapshots out to live subscribers and to
// registered sinks such as Prometheus and structured logging.
package progress
