// Package merge stitches per-component models back into one system model.
//
// Each component state is tagged "component:state". For every hand-off in the
// interleaving witness, a synchronization edge links the component state
// reached right after the sending event to the state the receiving component
// was in just before its event. Replaying a component's projection of a trace
// is deterministic, so both states are unique.
//
// The GlobalModel's initial nodes are the initial states of components that
// open some trace; its accepting nodes are the accepting states of components
// that close some trace.
package merge
