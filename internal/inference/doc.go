// Package inference adapts single-component automaton learners to the pipeline.
//
// An Engine is any learner that turns per-trace label sequences into a DFA.
// The Adapter strips a Partition down to its label streams, calls the engine
// under a per-component deadline, checks that the returned automaton accepts
// every submitted trace, and restores the trace/sequence bookkeeping on the
// resulting Model so the merger can locate each event's state.
//
// Engines live in subpackages: ktails (built in) and command (external process).
package inference
