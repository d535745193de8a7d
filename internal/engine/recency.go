package engine

import "time"

// recencyBoostWindow is the age below which an item counts double.
const recencyBoostWindow = 24 * time.Hour

// RecencyWeight returns the multiplier applied to an item's relevance
// based on its age: 2.0 for items fresher than 24 hours, 1.0 otherwise.
// Every retriever uses this same rule so the weighting stays auditable
// in one place.
func RecencyWeight(sourceTime, now time.Time) float64 {
	if now.Sub(sourceTime) < recencyBoostWindow {
		return 2.0
	}
	return 1.0
}

// Priority combines an item's relevance score with its recency weight.
// The merge step uses it to pick trim victims deterministically.
func Priority(item ContextItem, now time.Time) float64 {
	return item.RelevanceScore * RecencyWeight(item.SourceTimestamp, now)
}
