package models

import "time"

// Request is a single incoming prompt to route. Immutable after creation.
type Request struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	SessionID string    `json:"session_id"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// TierResult is the outcome of one model invocation within a tier.
type TierResult struct {
	Tier       string  `json:"tier"`
	Model      string  `json:"model"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// RoutedResponse is the final answer produced by the escalation engine.
type RoutedResponse struct {
	RequestID       string    `json:"request_id"`
	Text            string    `json:"text"`
	Model           string    `json:"model"`
	TierUsed        string    `json:"tier_used"`
	ProviderChain   []string  `json:"provider_chain"`
	ConfidenceChain []float64 `json:"confidence_chain"`
	Confidence      float64   `json:"confidence"`
	CostUSD         float64   `json:"cost_usd"`
	SavedUSD        float64   `json:"saved_usd,omitempty"`
	BudgetCapped    bool      `json:"budget_capped"`
	Cached          bool      `json:"cached"`
	LatencyMs       int64     `json:"latency_ms"`
}
