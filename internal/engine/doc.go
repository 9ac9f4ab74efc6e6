// Package engine implements the qzWhatNext scheduling pipeline.
//
// The engine answers "what should I do right now, and next?" by
// transforming a user's open tasks, calendar and preferences into an
// explainable, deterministic schedule.
//
// ARCHITECTURE:
//
// Per-User Serialized Rebuild:
// A rebuild for one user runs the ten stages strictly in order:
//
//  1. Materializer      - expand recurring series into occurrences
//  2. Repository load   - read active tasks
//  3. Exclusion gate    - partition AI-excluded tasks
//  4. Inference adapter - enrich non-excluded tasks, high confidence only
//  5. Constraint check  - flag tasks violating hard constraints
//  6. Tier assigner     - exactly one governing tier per task
//  7. Intra-tier ranker - stable ordering within each tier
//  8. Availability      - subtract reservations from the horizon
//  9. Placer            - emit scheduled blocks or overflow records
// 10. Audit emitter     - every decision, structured reasons
//
// Rebuilds MAY run in parallel across distinct users, but at most one per
// user: a per-user advisory lock is held for the whole pipeline. Triggers
// arriving mid-rebuild coalesce into exactly one follow-up run.
//
// Determinism:
// Identical repository state, identical availability snapshot and identical
// (mocked) inference output produce identical block sets and identical
// audit reason tokens. Tasks are processed in rank order, ties broken by
// creation time then ID; audit events carry a monotonic per-rebuild
// sequence from the logical clock. No randomness, no map iteration in any
// ordering-sensitive path.
//
// Suspension points:
// The inference adapter, the availability provider and the calendar
// synchronizer are the only blocking I/O. Each call is bounded by a
// timeout and a small retry budget. Inference failure degrades to
// defaults; availability failure falls back to a recent snapshot or aborts
// the rebuild; sync failure flags blocks and continues. Every task leaves
// a rebuild in exactly one of {scheduled, overflow-with-reason,
// excluded-no-op}; nothing is dropped silently.
package engine
