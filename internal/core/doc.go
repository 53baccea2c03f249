// Package core provides the incremental load engine.
//
// The package contains all load semantics independent of any storage driver,
// file format or transport. It can be driven by the CLI, the HTTP API, or
// tests without modification.
//
// # Architecture
//
// A load is composed bottom-up from four pieces:
//
//   - Registry: the static set of [Entity] schemas and their
//     foreign-key [Registry.DependencyOrder].
//   - Normalizer: projects a [RawBatch] onto an entity, renaming key
//     aliases and synthesizing keys for fact tables ([Normalize]).
//   - Detector: partitions a [CanonicalBatch] against the stored rows into
//     new, updated and unchanged ([Detect]).
//   - Loader: applies a [ChangeSet] in one transaction ([Loader.Apply]).
//
// The [Orchestrator] runs these in dependency order across a whole batch set
// and aggregates a [RunSummary].
//
// # Comparison
//
// Values are carried and compared as text. Both sides of a diff are passed
// through [Canonical] so numeric formatting differences between the input
// file and the store ("500" and "500.0") never register as changes.
//
// # Error Handling
//
// Load failures are typed ([UnknownEntityError], [SchemaViolationError],
// [StoreError]) and recorded per entity; only an unknown entity name in
// [Orchestrator.LoadOne] is returned to the caller. [MapError] converts any of
// them to a [UserMessage] with a support code:
//
//   - DB001-DB007: Store constraint and connection errors
//   - VAL003-VAL004: Missing or empty required columns
//   - FILE002-FILE006: Batch file errors
//   - ENT001, RUN001-RUN003: Entity lookup and run control
package core
