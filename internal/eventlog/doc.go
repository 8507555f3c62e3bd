// Package eventlog holds the in-memory model of an interleaved, component-tagged
// execution log.
//
// A GlobalLog is built once from validated input and never mutated. Events are
// grouped by trace; within a trace they are totally ordered by sequence index.
//
// Invariants enforced by New:
//   - sequence_index is strictly increasing within each trace
//   - sequence_index is unique across the whole log
//   - trace_id, component_id and label are non-empty
//
// Violations surface as *MalformedLogError and are never repaired.
package eventlog
