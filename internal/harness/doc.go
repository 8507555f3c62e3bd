// Package harness runs conformance scenarios against the full inference
// pipeline.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: handoff
//	description: "Two components hand off once per trace"
//	config:
//	  generalization_level: 0
//	  failure_policy: best_effort
//	traces:
//	  - id: t1
//	    steps: ["A:a1", "A:a2", "B:b1"]
//	  - id: t2
//	    steps: ["A:a1", "B:b1", "B:b2"]
//	fail_components: []
//	assertions:
//	  - type: partition
//	    component: A
//	    slices: [[a1, a2], [a1]]
//	  - type: witness
//	    pairs: ["A:a2 -> B:b1", "A:a1 -> B:b1"]
//	  - type: sync_edges
//	    count: 2
//	  - type: accepts
//	    labels: [a1, a2, b1]
//
// The config block accepts the keys of a configuration file. Interleaved
// logs use an events list of {trace, seq, component, label} records
// instead of traces.
//
// # Assertion Types
//
//   - partition: a component's label sequences, one per trace
//   - witness: the ordered cross-component hand-offs
//   - components: the component ids in natural order
//   - sync_edges, nodes: counts in the merged model
//   - errors: the reported error codes, recovered errors first
//   - accepts, rejects: replay of a label sequence on the merged model
//
// # Determinism
//
// Every run uses a fixed run id and start time, so a scenario always
// produces the same model and the same golden snapshot.
package harness
