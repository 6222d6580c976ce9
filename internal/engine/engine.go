// Package engine drives a run: it walks the worklist, consults the outcome
// store, hands pending crates to the build runner, classifies the result,
// persists it and reports it.
//
// The implementation is split across files:
//   - orchestrator.go: the per-crate state machine and worker pool
//   - factory.go: wiring of concrete dependencies from configuration
//   - safegroup.go: panic-safe worker group
//   - interfaces.go: the collaborator contracts
package engine
