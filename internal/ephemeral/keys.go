// Package ephemeral layers job status mirrors, fixed-window rate limits and
// read-through caches on top of a TTL key-value store.
package ephemeral

import (
	"fmt"
	"time"
)

// TTLs applied to each key family. Zero keeps the key until it is invalidated.
const (
	JobTTL          = time.Hour
	OracleRateTTL   = 60 * time.Second
	MaterialiseTTL  = 60 * time.Second
	BalanceCacheTTL = 30 * time.Second
	GenomeCacheTTL  = 0
)

// Default request budgets per window.
const (
	OracleRateLimit      = 20
	MaterialiseRateLimit = 5
)

// JobStatusKey holds the mirrored status of a materialisation job.
func JobStatusKey(jobID string) string { return fmt.Sprintf("materialise:job:%s:status", jobID) }

// JobProgressKey holds the mirrored 0..100 progress of a materialisation job.
func JobProgressKey(jobID string) string { return fmt.Sprintf("materialise:job:%s:progress", jobID) }

// OracleRateKey counts assistant mutation requests per user session.
func OracleRateKey(userID, sessionID string) string {
	return fmt.Sprintf("oracle:ratelimit:%s:%s", userID, sessionID)
}

// MaterialiseRateKey counts materialise requests per user.
func MaterialiseRateKey(userID string) string { return "materialize:rate:" + userID }

// BalanceKey caches a user's chip balance.
func BalanceKey(userID string) string { return "chip:balance:cache:" + userID }

// GenomeKey caches a project's genome JSON.
func GenomeKey(projectID string) string { return "dna:cache:" + projectID }
