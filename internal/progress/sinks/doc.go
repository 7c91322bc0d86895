// Package sinks provides progress.Sink implementations.
package sinks
