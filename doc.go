// Package jobsched provides a priority job scheduler backed by a fixed
// pool of worker goroutines.
//
// Design goals
//
// The package is designed around the following principles:
//
//   - Submission never blocks on workers and never takes a global lock
//   - Workers find new work without a central queue lock
//   - A job body runs at most once per claim, no matter how many
//     workers race for it
//   - Idle workers sleep and cost nothing
//
// Architecture overview
//
// The scheduler is composed of three loosely coupled layers:
//
//  1. Registry (priority buckets)
//     One bucket per priority level, highest priority first. A bucket is
//     a published slice: readers load it atomically and scan it without
//     locks, writers publish a new view. Every enqueue bumps a shared
//     freshness stamp.
//
//  2. Execution (workers)
//     Each worker sweeps the buckets top-down and tries to claim every
//     job it meets. When the stamp moves during a sweep the worker goes
//     back to the top bucket, so newer high priority work is picked up
//     before older low priority work. A sweep that claims nothing ends
//     with the worker parking until the next submission.
//
//  3. Job lifecycle
//     A QueuedJob carries its body, optional context and cleanup, and an
//     atomic claim word. Range jobs split into N sub-units that several
//     workers claim one index at a time.
//
// Claiming
//
// Claims are compare-and-swap on the job's claim word. Losing a race is
// not an error: the loser moves on to the next job. Canceling a job is a
// claim too; it only succeeds before any worker claimed the job.
//
// Waking
//
// A worker about to park registers itself and re-reads the stamp. A
// submitter bumps the stamp and then checks for parked workers. One of
// the two always observes the other, so a submission never waits on a
// sleeping pool.
//
// Error handling
//
// The scheduler distinguishes between two classes of errors:
//
//   - Job errors: returned by job functions or produced by panic recovery
//   - Internal errors: unexpected failures inside the scheduler itself
//
// Job errors are passed through a lock-free MPSC RingBuffer to a single
// reporter goroutine, which calls Options.OnJobError and writes rate
// limited log lines. Panics inside jobs are recovered to prevent worker
// termination.
//
// Debugging
//
// SetForceSingleThread stops the pool from scanning without tearing it
// down. Queued work then only runs when the host calls RunPending.
//
// CPU pinning
//
// On Linux, workers may optionally be pinned to specific CPUs.
// When enabled, workers are locked to OS threads and restricted
// to run on a single CPU core.
package jobsched
