package models

import "time"

// CostSource identifies what produced a cost event.
type CostSource string

const (
	SourceInference CostSource = "inference"
	SourceCache     CostSource = "cache"
	SourcePattern   CostSource = "pattern"
)

// CostEvent records a single model call (or free cache/pattern hit) for the ledger.
type CostEvent struct {
	ID               int64      `json:"id"`
	Tier             string     `json:"tier"`
	Model            string     `json:"model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	CostUSD          float64    `json:"cost_usd"`
	SavedUSD         float64    `json:"saved_usd"`
	Source           CostSource `json:"source"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DailySummary aggregates one day of ledger activity.
type DailySummary struct {
	Date               string             `json:"date"`
	TotalCostUSD       float64            `json:"total_cost_usd"`
	TotalSavedUSD      float64            `json:"total_saved_usd"`
	TierCosts          map[string]float64 `json:"tier_costs"`
	TierHits           map[string]int     `json:"tier_hits"`
	PatternHits        int                `json:"pattern_hits"`
	CacheHits          int                `json:"cache_hits"`
	BudgetRemainingUSD float64            `json:"budget_remaining_usd"`
	OverBudget         bool               `json:"over_budget"`
}

// TierHitRate is a tier's share of all calls over a window, used to spot
// tiers that no longer earn their keep.
type TierHitRate struct {
	Tier string  `json:"tier"`
	Hits int     `json:"hits"`
	Rate float64 `json:"rate"`
}
