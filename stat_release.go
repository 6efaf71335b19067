//go:build !debug

package jobsched

type ContentionStats struct {
	RingClaims    int64
	RingCASMisses int64
	JobClaimMiss  int64
	BucketGrows   int64
	StampResets   int64
}

func statRingClaim()    {}
func statRingCASMiss()  {}
func statJobClaimMiss() {}
func statBucketGrow()   {}
func statStampReset()   {}

func SnapshotContention() ContentionStats { return ContentionStats{} }

func PrintContention() {}
