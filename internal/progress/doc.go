// Package progress reports job progress two ways. Stream polls the job
// registry and yields snapshots for clients watching a single job. Hub
// carries lifecycle events from workers to sinks (logs, Prometheus, run
// history) on a background goroutine without ever blocking the emitter.
package progress
