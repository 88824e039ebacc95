// Package rollout decides percentage rollouts.
//
// Every user is placed in a fixed bucket per flag; a flag at rollout p is on
// for buckets [0, p). Raising p therefore only ever adds users.
package rollout

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// HashVersion identifies the bucketing function: xxh64 over "<flag>:<user>",
// reduced mod 100. Changing it reassigns every user and needs a migration.
const HashVersion = 1

// Buckets is the size of the bucket space.
const Buckets = 100

// Decision explains an evaluation.
type Decision struct {
	Enabled bool
	// Bucket is -1 when the user matched the allow-list.
	Bucket            int
	RolloutPercentage int
	Reason            string
}

// Bucket returns the user's position in [0, Buckets) for the flag.
func Bucket(flagName, userID string) int {
	return int(xxhash.Sum64String(flagName+":"+userID) % Buckets)
}

// ClampPercentage bounds p to [0, 100].
func ClampPercentage(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Evaluate reports whether the flag is on for the user.
func Evaluate(flagName, userID string, percentage int, targetUsers []string) bool {
	return Explain(flagName, userID, percentage, targetUsers).Enabled
}

// Explain is Evaluate with the bucket and a human readable reason.
func Explain(flagName, userID string, percentage int, targetUsers []string) Decision {
	pct := ClampPercentage(percentage)
	if len(targetUsers) > 0 && slices.Contains(targetUsers, userID) {
		return Decision{Enabled: true, Bucket: -1, RolloutPercentage: pct, Reason: "user is in target users"}
	}
	bucket := Bucket(flagName, userID)
	enabled := bucket < pct
	op := ">="
	if enabled {
		op = "<"
	}
	return Decision{
		Enabled:           enabled,
		Bucket:            bucket,
		RolloutPercentage: pct,
		Reason:            fmt.Sprintf("bucket %d %s rollout %d%%", bucket, op, pct),
	}
}
