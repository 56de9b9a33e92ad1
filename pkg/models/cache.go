package models

import "time"

// CachedResponse is a previously computed answer stored by the cache layer.
type CachedResponse struct {
	Text         string    `json:"text"`
	Model        string    `json:"model"`
	Confidence   float64   `json:"confidence"`
	CostSavedUSD float64   `json:"cost_saved_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
