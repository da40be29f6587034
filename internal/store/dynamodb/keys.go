package dynamodb

import (
	"time"
)

// sortableTime is fixed-width so GSI1SK range conditions compare correctly.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

const (
	gsi1 = "GSI1"

	prefixRun     = "RUN#"
	prefixFailure = "FAILURE#"
	prefixAttempt = "ATTEMPT#"
	prefixType    = "TYPE#"

	skRun = "RUN"

	kindRun     = "run"
	kindFailure = "failure"
	kindAttempt = "attempt"
)

func runPK(runID string) string              { return prefixRun + runID }
func failureSK(id string) string             { return prefixFailure + id }
func attemptSK(id string) string             { return prefixAttempt + id }
func typePK(kind string) string              { return prefixType + kind }
func timeSK(t time.Time) string              { return t.UTC().Format(sortableTime) }
func byTimeSK(t time.Time, id string) string { return timeSK(t) + "#" + id }

func ttlEpoch(now time.Time, d time.Duration) int64 {
	return now.Add(d).Unix()
}

func isExpired(now time.Time, epoch int64) bool {
	return epoch > 0 && now.Unix() > epoch
}
