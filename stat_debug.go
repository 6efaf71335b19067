//go:build debug

package jobsched

import (
	"sync/atomic"
)

var (
	ringClaims    atomic.Int64
	ringCASMisses atomic.Int64
	jobClaimMiss  atomic.Int64
	bucketGrows   atomic.Int64
	stampResets   atomic.Int64
)

// ContentionStats counts contention events. Only collected in builds with
// the debug tag.
type ContentionStats struct {
	RingClaims    int64
	RingCASMisses int64
	JobClaimMiss  int64
	BucketGrows   int64
	StampResets   int64
}

func statRingClaim()    { ringClaims.Add(1) }
func statRingCASMiss()  { ringCASMisses.Add(1) }
func statJobClaimMiss() { jobClaimMiss.Add(1) }
func statBucketGrow()   { bucketGrows.Add(1) }
func statStampReset()   { stampResets.Add(1) }

func SnapshotContention() ContentionStats {
	return ContentionStats{
		RingClaims:    ringClaims.Load(),
		RingCASMisses: ringCASMisses.Load(),
		JobClaimMiss:  jobClaimMiss.Load(),
		BucketGrows:   bucketGrows.Load(),
		StampResets:   stampResets.Load(),
	}
}

func PrintContention() {
	println(
		"ring claims / ring CAS misses / job claim misses / bucket grows / stamp resets :",
		ringClaims.Load(),
		ringCASMisses.Load(),
		jobClaimMiss.Load(),
		bucketGrows.Load(),
		stampResets.Load(),
	)
}
