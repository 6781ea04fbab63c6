// Package fluo provides a hierarchical state machine runtime for Go with
// compound states, parallel regions, in-state conditions and
// run-to-completion processing of raised events.
//
// Machines are declared as a tree of StateNode values, either in Go or in
// YAML via LoadYAML, and compiled into a MachineDefinition. Each instance
// created from a definition keeps its own active configuration and context.
//
// Transitions may reference asynchronous guards. Such declarations must be
// compiled with the asyncguard package before they can be run.
package fluo
