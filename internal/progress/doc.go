// Package progress carries harvest progress events from the engine to
// pluggable sinks. The hub batches events on a background goroutine so that
// emitting never blocks the traversal.
package progress
