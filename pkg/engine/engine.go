// Package engine orchestrates the three-tier escalation ladder.
//
// A request flows cache -> pattern specialists -> local tier -> synth tier ->
// premium tier, escalating only while confidence stays below the gate and the
// cost ledger allows the next paid call. The local answer-so-far is always
// returned even when escalation is cut off.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cascadelabs/cascade/pkg/backend"
	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/confidence"
	"github.com/cascadelabs/cascade/pkg/ledger"
	"github.com/cascadelabs/cascade/pkg/models"
	"github.com/cascadelabs/cascade/pkg/patterns"
	"github.com/cascadelabs/cascade/pkg/tiers"
)

// ErrNoAnswer is returned when every tier failed and no partial answer exists.
var ErrNoAnswer = errors.New("no tier produced an answer")

// Cache is the subset of the prompt cache the engine needs.
type Cache interface {
	Lookup(sessionID, prompt string) (models.CachedResponse, bool)
	Store(sessionID, prompt string, resp models.CachedResponse) error
}

// PatternSpecialistName is the provider-chain entry for specialist answers.
const PatternSpecialistName = "pattern_specialist"

// CacheName is the provider-chain entry for cache hits.
const CacheName = "cache"

// tierRetries is how many attempts a tier gets before the ladder escalates
// with zero confidence.
const tierRetries = 2

// Engine routes requests through the ladder. Cache and matcher are optional;
// a nil cache disables caching, a nil matcher disables specialists.
type Engine struct {
	registry  *tiers.Registry
	backend   backend.Backend
	ledger    ledger.Ledger
	cache     Cache
	matcher   *patterns.Matcher
	guardrail config.GuardrailConfig
	limiters  map[string]*rate.Limiter

	mu    sync.RWMutex
	gates config.GateConfig
}

// New wires an Engine from its parts. Paid tiers with max_calls_per_minute
// set get a rate limiter so low-confidence bursts cannot stampede them.
func New(cfg *config.Config, reg *tiers.Registry, be backend.Backend, led ledger.Ledger, cache Cache, matcher *patterns.Matcher) *Engine {
	limiters := make(map[string]*rate.Limiter)
	for _, t := range reg.Ladder() {
		if t.Paid() && t.MaxCallsPerMinute > 0 {
			limiters[t.Name] = rate.NewLimiter(rate.Limit(float64(t.MaxCallsPerMinute)/60.0), t.MaxCallsPerMinute)
		}
	}
	return &Engine{
		registry:  reg,
		backend:   be,
		ledger:    led,
		cache:     cache,
		matcher:   matcher,
		guardrail: cfg.Guardrail,
		limiters:  limiters,
		gates:     cfg.Gates,
	}
}

// SetGates swaps the confidence gates, typically from a config reload.
func (e *Engine) SetGates(g config.GateConfig) {
	e.mu.Lock()
	e.gates = g
	e.mu.Unlock()
}

// effectiveGates returns the live gates, substituting the tightened values
// while the cost guardrail is active.
func (e *Engine) effectiveGates() config.GateConfig {
	e.mu.RLock()
	gates := e.gates
	e.mu.RUnlock()

	if e.guardrail.TriggerRatio > 0 && e.ledger.SpentRatio() > e.guardrail.TriggerRatio {
		return e.guardrail.TightGates
	}
	return gates
}

// gateFor returns the acceptance threshold applied after the tier at the
// given ladder position. The first gate controls escalation to the synth
// tier, every later gate the premium threshold.
func gateFor(gates config.GateConfig, position int) float64 {
	if position == 0 {
		return gates.ToSynth
	}
	return gates.ToPremium
}

// Route runs one request through the ladder.
func (e *Engine) Route(ctx context.Context, req models.Request) (*models.RoutedResponse, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ArrivedAt.IsZero() {
		req.ArrivedAt = time.Now()
	}
	start := time.Now()

	ladder := e.registry.Ladder()
	if len(ladder) == 0 {
		return nil, fmt.Errorf("empty tier ladder")
	}

	var (
		st        = StateCacheCheck
		position  = 0
		best      *models.TierResult
		chain     []string
		confChain []float64
		totalCost float64
		capped    bool
	)

	for {
		switch st {
		case StateCacheCheck:
			if e.cache != nil {
				if hit, ok := e.cache.Lookup(req.SessionID, req.Prompt); ok {
					e.recordFree(ctx, CacheName, hit.Model, models.SourceCache, hit.CostSavedUSD)
					return &models.RoutedResponse{
						RequestID:       req.ID,
						Text:            hit.Text,
						Model:           hit.Model,
						TierUsed:        CacheName,
						ProviderChain:   []string{CacheName},
						ConfidenceChain: []float64{hit.Confidence},
						Confidence:      hit.Confidence,
						CostUSD:         0,
						SavedUSD:        hit.CostSavedUSD,
						Cached:          true,
						LatencyMs:       time.Since(start).Milliseconds(),
					}, nil
				}
			}
			st = StatePatternCheck

		case StatePatternCheck:
			if e.matcher != nil {
				if m, ok := e.matcher.Match(req.Prompt); ok {
					name := fmt.Sprintf("%s_%d", PatternSpecialistName, m.ClusterID)
					e.recordFree(ctx, PatternSpecialistName, name, models.SourcePattern, 0)
					return &models.RoutedResponse{
						RequestID:       req.ID,
						Text:            m.Response,
						Model:           name,
						TierUsed:        PatternSpecialistName,
						ProviderChain:   []string{PatternSpecialistName},
						ConfidenceChain: []float64{m.Confidence},
						Confidence:      m.Confidence,
						CostUSD:         0,
						LatencyMs:       time.Since(start).Milliseconds(),
					}, nil
				}
			}
			st = StateTierCall

		case StateTierCall:
			tier := ladder[position]
			reserved := reservationFor(tier, req.Prompt)

			result, err := e.callTier(ctx, tier, req.Prompt)
			chain = append(chain, tier.Name)
			if err != nil {
				log.Printf("tier %s failed after retry: %v", tier.Name, err)
				if tier.Paid() {
					e.ledger.Release(reserved)
				}
				confChain = append(confChain, 0)
				st = StateGate
				continue
			}

			result.Confidence = confidence.Score(result.Text, result.Confidence)
			confChain = append(confChain, result.Confidence)
			best = result
			totalCost += result.CostUSD

			ev := models.CostEvent{
				Tier:             tier.Name,
				Model:            result.Model,
				PromptTokens:     backend.EstimateTokens(req.Prompt),
				CompletionTokens: result.TokensUsed,
				CostUSD:          result.CostUSD,
				Source:           models.SourceInference,
			}
			if err := e.ledger.Commit(ctx, ev, reserved); err != nil {
				log.Printf("ledger commit error: %v", err)
			}
			st = StateGate

		case StateGate:
			gates := e.effectiveGates()
			gate := gateFor(gates, position)

			// Top of the ladder: nothing left to escalate to.
			if position == len(ladder)-1 {
				st = StateDone
				continue
			}

			// Inclusive pass: confidence equal to the gate does not escalate.
			if best != nil && confChain[len(confChain)-1] >= gate {
				st = StateDone
				continue
			}

			next := ladder[position+1]
			if next.Paid() {
				est := reservationFor(next, req.Prompt)
				if !e.ledger.Reserve(est) {
					log.Printf("escalation to %s denied: $%.4f over budget", next.Name, est)
					capped = true
					st = StateAbortBudget
					continue
				}
			}
			position++
			st = StateTierCall

		case StateDone, StateAbortBudget:
			if best == nil {
				st = StateError
				continue
			}
			resp := e.buildResponse(req, best, chain, confChain, totalCost, capped, start)
			e.storeCache(req, resp)
			return resp, nil

		case StateError:
			return nil, fmt.Errorf("request %s: %w", req.ID, ErrNoAnswer)
		}
	}
}

// reservationFor is the worst-case cost of a call into a tier: the prompt
// plus a full completion at the tier's token cap.
func reservationFor(t tiers.Tier, prompt string) float64 {
	if !t.Paid() {
		return 0
	}
	return t.EstimateCost(backend.EstimateTokens(prompt) + t.MaxTokens)
}

// callTier invokes a tier's candidate models with the tier timeout, retrying
// once before giving up. The retry moves to the next candidate model when
// the tier has more than one.
func (e *Engine) callTier(ctx context.Context, tier tiers.Tier, prompt string) (*models.TierResult, error) {
	if lim, ok := e.limiters[tier.Name]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < tierRetries; attempt++ {
		model := tier.Models[attempt%len(tier.Models)]

		attemptCtx, cancel := context.WithTimeout(ctx, tier.Timeout)
		result, err := e.backend.Generate(attemptCtx, backend.GenerateRequest{
			Model:     model,
			Prompt:    prompt,
			MaxTokens: tier.MaxTokens,
		})
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		tokens := result.TokensUsed
		if tokens == 0 {
			tokens = backend.EstimateTokens(prompt) + backend.EstimateTokens(result.Text)
		}
		return &models.TierResult{
			Tier:       tier.Name,
			Model:      model,
			Text:       result.Text,
			Confidence: result.Confidence,
			TokensUsed: tokens,
			CostUSD:    tier.EstimateCost(tokens),
		}, nil
	}
	return nil, lastErr
}

func (e *Engine) buildResponse(req models.Request, best *models.TierResult, chain []string, confChain []float64, totalCost float64, capped bool, start time.Time) *models.RoutedResponse {
	return &models.RoutedResponse{
		RequestID:       req.ID,
		Text:            confidence.Clean(best.Text),
		Model:           best.Model,
		TierUsed:        best.Tier,
		ProviderChain:   chain,
		ConfidenceChain: confChain,
		Confidence:      best.Confidence,
		CostUSD:         totalCost,
		BudgetCapped:    capped,
		LatencyMs:       time.Since(start).Milliseconds(),
	}
}

// storeCache populates the cache with the final answer. Failures are logged
// and the response is served uncached.
func (e *Engine) storeCache(req models.Request, resp *models.RoutedResponse) {
	if e.cache == nil {
		return
	}
	err := e.cache.Store(req.SessionID, req.Prompt, models.CachedResponse{
		Text:         resp.Text,
		Model:        resp.Model,
		Confidence:   resp.Confidence,
		CostSavedUSD: resp.CostUSD,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("cache store error: %v", err)
	}
}

// recordFree logs a zero-cost ledger event for cache and pattern hits so the
// daily summary can report savings.
func (e *Engine) recordFree(ctx context.Context, tier, model string, source models.CostSource, saved float64) {
	ev := models.CostEvent{
		Tier:     tier,
		Model:    model,
		SavedUSD: saved,
		Source:   source,
	}
	if err := e.ledger.Commit(ctx, ev, 0); err != nil {
		log.Printf("ledger commit error: %v", err)
	}
}
