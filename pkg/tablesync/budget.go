// SPDX-License-Identifier: Apache-2.0

package tablesync

import "time"

// maxChunksPerCycle and maxCycleDuration are the hard limits from
// spec.md §4.6/§5: defence against a pathological loop on one table
// starving every other table in the same cycle.
const (
	maxChunksPerCycle = 10_000
	maxCycleDuration  = 2 * time.Hour
)

// budget tracks chunk count and wall-clock time spent on one table
// within one Sync call, so the bulk-copy loop can stop cleanly and leave
// the cursor at its last successfully advanced position.
type budget struct {
	start  time.Time
	chunks int
}

func newBudget(now time.Time) *budget {
	return &budget{start: now}
}

// exceeded reports whether either hard limit has been reached, given the
// current time.
func (b *budget) exceeded(now time.Time) bool {
	return b.chunks >= maxChunksPerCycle || now.Sub(b.start) >= maxCycleDuration
}

func (b *budget) recordChunk() {
	b.chunks++
}
