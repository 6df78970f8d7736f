// Package workqueue provides the deduplicating, delaying and rate limited
// queues that feed controller workers.
//
// A key is never handed to two workers at once: a key added while it is
// being processed is marked dirty and re-queued when the worker calls Done.
// Keys added while already pending collapse into one entry.
package workqueue
