// Package crawler defines the shared vocabulary of the harvesting engine: the
// ordered record type written to sinks, per-entity progress records, and the
// capability interfaces the engine consumes from the browser, ledger, sink,
// and infrastructure layers.
package crawler
