package jobsched

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// cachePad keeps hot fields on their own cache line.
type cachePad = cpu.CacheLinePad

const (
	// DefaultBucketSize is the initial backing capacity of a priority bucket.
	DefaultBucketSize = 64
)

// bucket holds the queued jobs of one priority level.
//
// Readers load the published slice and scan it without locks. A published
// slice is never modified at indices below its length: appends write past
// the published length and then publish a longer header, growth and
// compaction publish a fresh backing array. Writers serialize on mu.
type bucket struct {
	jobs atomic.Pointer[[]*QueuedJob]
	mu   sync.Mutex
	_    cachePad
}

func (b *bucket) init(capacity int) {
	s := make([]*QueuedJob, 0, capacity)
	b.jobs.Store(&s)
}

// snapshot returns the currently published view.
func (b *bucket) snapshot() []*QueuedJob {
	return *b.jobs.Load()
}

func (b *bucket) push(j *QueuedJob, minCap int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.jobs.Load()
	n := len(cur)
	if n < cap(cur) {
		next := cur[:n+1]
		next[n] = j
		b.jobs.Store(&next)
		return
	}

	// Full: copy the live entries into a larger array. Claimed jobs are
	// dropped here; workers still scanning cur keep their own view.
	live := 0
	for _, q := range cur {
		if q.claimable() {
			live++
		}
	}
	size := max(minCap, 2*(live+1))
	next := make([]*QueuedJob, 0, size)
	for _, q := range cur {
		if q.claimable() {
			next = append(next, q)
		}
	}
	next = append(next, j)
	b.jobs.Store(&next)
	statBucketGrow()
}

// compact republishes the bucket without exhausted jobs. It gives up
// immediately if a writer holds the bucket.
func (b *bucket) compact(minCap int) bool {
	if !b.mu.TryLock() {
		return false
	}
	defer b.mu.Unlock()

	cur := *b.jobs.Load()
	live := 0
	for _, q := range cur {
		if q.claimable() {
			live++
		}
	}
	if live == len(cur) {
		return false
	}
	next := make([]*QueuedJob, 0, max(minCap, live))
	for _, q := range cur {
		if q.claimable() {
			next = append(next, q)
		}
	}
	b.jobs.Store(&next)
	return true
}

func (b *bucket) pending() int {
	n := 0
	for _, q := range b.snapshot() {
		if q.claimable() {
			n++
		}
	}
	return n
}

// registry is the ordered set of priority buckets plus the freshness
// stamp. Bucket 0 holds the highest priority.
type registry struct {
	buckets []bucket
	minCap  int

	_ cachePad
	// stamp changes on every enqueue. It is only compared for equality.
	stamp atomic.Uint32
	_     cachePad
}

func newRegistry(levels, bucketSize int) *registry {
	r := &registry{
		buckets: make([]bucket, levels),
		minCap:  bucketSize,
	}
	for i := range r.buckets {
		r.buckets[i].init(bucketSize)
	}
	return r
}

func (r *registry) levels() int { return len(r.buckets) }

func (r *registry) valid(p Priority) bool { return int(p) < len(r.buckets) }

// enqueue publishes j and bumps the stamp. The job is visible to any
// worker that observes the new stamp.
func (r *registry) enqueue(j *QueuedJob) uint32 {
	r.buckets[j.prio].push(j, r.minCap)
	return r.stamp.Add(1)
}

func (r *registry) snapshot(level int) []*QueuedJob {
	return r.buckets[level].snapshot()
}

func (r *registry) compact() int {
	n := 0
	for i := range r.buckets {
		if r.buckets[i].compact(r.minCap) {
			n++
		}
	}
	return n
}

func (r *registry) pending() []int {
	out := make([]int, len(r.buckets))
	for i := range r.buckets {
		out[i] = r.buckets[i].pending()
	}
	return out
}
