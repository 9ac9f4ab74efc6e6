// Package model defines the canonical qzWhatNext data types.
//
// Every entity is a closed struct with an enumerated field set - there are
// no dynamic attribute bags. "Unknown" is a sentinel enum value, never an
// absent key. All timestamps are absolute instants (UTC); the date-only
// fields StartAfter and DueBy are user-local dates resolved to instants
// against the owner's calendar timezone at rebuild time.
//
// Ownership is the hard boundary: every entity except User carries the
// owner's user ID, and no read or write ever crosses it.
package model
