// Package progress carries run ledger events from workers to pluggable sinks.
// Workers emit without blocking; a background goroutine batches events and
// hands them to sinks such as a structured log or the run repository.
package progress
