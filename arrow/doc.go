// Package arrow provides the Arrow IPC decode pipeline of the bridge.
// This package implements:
// - Stream metadata parsing for both the streaming and the file format
// - A lazy, forward-only sequence of decoded record batches
// - IPC serialization helpers used by tests and tooling
package arrow
