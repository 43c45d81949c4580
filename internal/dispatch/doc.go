// Package dispatch executes routines: the exert / invoke / evaluate state
// machine and the composite flows built on it.
//
// A call to Exert moves a routine through INITIAL → RUNNING → {DONE, FAILED,
// ERROR, SUSPENDED}:
//   - Substitute: apply args (value, strategy, selector and fidelity
//     overrides) to staged copies; commit only if every arg applies
//   - Correct access: rebind the executor signature to the Spacer for PULL
//     and back to the Jobber for PUSH
//   - Classify: space, remote, local invoke, local evaluate or composite,
//     from the resolved signature's capability
//   - Dispatch: transport for remote targets, in-process otherwise
//   - Reconcile: merge Context results, write value results at the return
//     path, compute the request-path value and finalize the Context
//
// Error handling:
//   - Context, substitution, fidelity, conflict and operation faults → FAILED
//   - Cancellation and infrastructure errors → ERROR
//   - Every dispatch fault is appended to the strategy trace, then returned
//     as *fault.RoutineFault
//
// Composite flows:
//   - Pipeline: elements share the ambient Context
//   - Block: child Contexts are merged from and into the block Context
//   - Job: children keep their Contexts; the job aggregates and links them
//   - SEQUENTIAL aborts on the first failure; PARALLEL runs siblings on
//     clones, joins at a barrier and merges writes in list order, rejecting
//     two siblings writing one path
//   - Loop, Opt and Alt evaluate their Condition against the ambient Context
package dispatch
