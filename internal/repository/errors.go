// Package repository defines the durable stores behind the seat
// locking engine and the sentinel errors shared across them.  The
// sentinels let higher layers such as the coordinator and the HTTP
// handlers distinguish expected, recoverable outcomes (another session
// holds the seat, a hold lapsed) from genuine infrastructure failures.
package repository

import "errors"

// ErrSeatUnavailable is returned by Acquire when another session holds
// a live lock on the seat, or when the seat has reached a terminal
// status.  It is an expected outcome surfaced to the UI as "someone
// else is holding this seat", never treated as a system error.
var ErrSeatUnavailable = errors.New("seat unavailable")

// ErrNotOwner is returned when the caller tries to mutate a lock it
// does not hold.  Callers may race with expiry, so handlers treat it
// as "already released" rather than a fatal error.
var ErrNotOwner = errors.New("not lock owner")

// ErrExpired is returned by Extend and Promote when the caller's hold
// lapsed before the operation completed, including the case where the
// seat was taken over by another session after the lapse.  The caller
// should re-acquire rather than trust the stale claim.
var ErrExpired = errors.New("hold expired")

// ErrStorageUnavailable is returned by the coordinator once bounded
// retries against the backing store are exhausted.  It is distinct
// from the three outcomes above so the UI can tell "seat taken" apart
// from "system degraded".
var ErrStorageUnavailable = errors.New("storage unavailable")
