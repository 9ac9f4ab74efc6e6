// Package store provides durable SQLite-backed storage for qzWhatNext.
//
// DESIGN:
//
// User scoping:
// Every repository method takes the owner's user ID and filters strictly by
// it. There is no cross-user read path; isolation tests assert that one
// user's rows are invisible under another's ID.
//
// Soft delete:
// Tasks, series and time blocks carry a deleted_at marker. Reads exclude
// soft-deleted rows unless asked otherwise; restore clears the marker;
// purge removes the row irreversibly. Both delete flavors cascade to the
// task's scheduled blocks.
//
// Transactional audit:
// Compound writes accept audit events and flush them in the same
// transaction as the state change they document. A partial failure rolls
// back both, so the audit log never diverges from the state it describes.
//
// Idempotent writes:
// Materialized occurrences insert with OR IGNORE against a partial unique
// dedupe index; re-materialization is a reported no-op, not an error.
//
// Single writer:
// The connection pool is capped at one connection. SQLite serializes
// writers anyway; the cap avoids SQLITE_BUSY churn under concurrent
// rebuilds of distinct users.
package store
