// Package schedule is the recurring posting engine.
//
// # Overview
//
// Every (tenant, channel) pair owns one job, identified by a deterministic
// key that doubles as the timer-registry key and the channel's entry in the
// tenant's store document. Keeping those two keyed identically is what makes
// edits and restarts safe: arming always cancels the previous timer under the
// same key, so there can never be two live timers for one channel.
//
// # Job lifecycle
//
// A job moves through three states:
//
//	UNARMED -> ARMED (Upsert or recovery; first delay is a short warm-up)
//	ARMED   -> FIRING (timer elapsed; generate + deliver in progress)
//	FIRING  -> ARMED (delivered, or degraded/transient failure; jittered re-arm)
//	FIRING  -> UNARMED (permanent delivery failure; record deleted, event published)
//
// Upsert/Remove calls that land while a job is FIRING are queued on the job
// state and applied when the cycle settles, so an in-flight cycle can never
// revive a schedule the tenant just deleted.
//
// # Failure policy
//
// Content-generation errors are not failures: the cycle posts apologetic
// fallback text and keeps its cadence. Only a permanent transport rejection
// of the channel itself (kicked, blocked, deleted, no rights) tears the job
// down; the tenant is told once, via an event on the bus.
package schedule
