// Package ledger tracks spend against a rolling daily budget.
//
// All gating decisions read through a single mutation point: a request
// reserves its estimated cost before a paid call, then commits the actual
// cost after the call succeeds. Reservation-then-commit keeps concurrent
// requests from racing past the daily cap.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/models"
)

// Ledger records spend and answers budget questions.
type Ledger interface {
	// Reserve holds usd against today's budget. Returns false when the hold
	// would exceed the daily budget or the per-request cap.
	Reserve(usd float64) bool
	// Release drops a reservation that will not be committed.
	Release(usd float64)
	// Commit stores a cost event and converts reservedUSD of held budget into
	// spend. Free events (cache, pattern, local) commit with reservedUSD 0.
	Commit(ctx context.Context, ev models.CostEvent, reservedUSD float64) error
	// CurrentSpend returns committed spend for a day bucket (YYYY-MM-DD).
	CurrentSpend(ctx context.Context, day string) (float64, error)
	// Remaining returns today's unreserved budget.
	Remaining() float64
	// SpentRatio returns today's committed spend as a fraction of the budget.
	SpentRatio() float64
	// DailySummary aggregates one day of activity.
	DailySummary(ctx context.Context, day string) (models.DailySummary, error)
	// TierHitRates returns each tier's share of calls over the last N days.
	TierHitRates(ctx context.Context, days int) ([]models.TierHitRate, error)
	// Close releases resources.
	Close() error
}

// retirementThreshold is the hit-rate floor below which a paid tier is
// reported as a retirement candidate.
const retirementThreshold = 0.10

// SQLiteLedger implements Ledger with a SQLite database and an in-memory
// counter for the current day.
type SQLiteLedger struct {
	db      *sql.DB
	budget  config.BudgetConfig
	onAlert func(spentUSD float64)

	mu       sync.Mutex
	day      string
	spent    float64
	reserved float64
	alerted  bool

	now func() time.Time
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS cost_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	day TEXT NOT NULL,
	tier TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	saved_usd REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cost_events_day ON cost_events(day);
`

// New opens (or creates) the ledger database and loads today's spend.
// onAlert may be nil; when set it fires once per day as spend crosses the
// alert threshold.
func New(dbPath string, budget config.BudgetConfig, onAlert func(float64)) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	l := &SQLiteLedger{
		db:      db,
		budget:  budget,
		onAlert: onAlert,
		now:     time.Now,
	}
	l.day = l.dayBucket(l.now())
	spent, err := l.CurrentSpend(context.Background(), l.day)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.spent = spent
	l.alerted = spent >= budget.CostAlertThreshold && budget.CostAlertThreshold > 0
	return l, nil
}

// dayBucket maps a wall-clock time to its budget day, honoring the
// configured reset hour.
func (l *SQLiteLedger) dayBucket(t time.Time) string {
	return t.UTC().Add(-time.Duration(l.budget.ResetHour) * time.Hour).Format("2006-01-02")
}

// rollover resets the in-memory counters when the budget day changes.
// Caller must hold mu.
func (l *SQLiteLedger) rollover() {
	day := l.dayBucket(l.now())
	if day == l.day {
		return
	}
	l.day = day
	l.spent = 0
	l.reserved = 0
	l.alerted = false
}

// Reserve holds usd against today's budget.
func (l *SQLiteLedger) Reserve(usd float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	if usd > l.budget.PerRequestUSD {
		return false
	}
	if l.spent+l.reserved+usd > l.budget.DailyBudgetUSD {
		return false
	}
	l.reserved += usd
	return true
}

// Release drops a reservation.
func (l *SQLiteLedger) Release(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved -= usd
	if l.reserved < 0 {
		l.reserved = 0
	}
}

// Commit stores a cost event and converts the reservation into spend.
func (l *SQLiteLedger) Commit(ctx context.Context, ev models.CostEvent, reservedUSD float64) error {
	l.mu.Lock()
	l.rollover()
	day := l.day
	l.spent += ev.CostUSD
	l.reserved -= reservedUSD
	if l.reserved < 0 {
		l.reserved = 0
	}
	spent := l.spent
	fireAlert := !l.alerted && l.budget.CostAlertThreshold > 0 && spent >= l.budget.CostAlertThreshold
	if fireAlert {
		l.alerted = true
	}
	l.mu.Unlock()

	if fireAlert {
		log.Printf("ledger: daily spend $%.4f crossed alert threshold $%.4f",
			spent, l.budget.CostAlertThreshold)
		if l.onAlert != nil {
			l.onAlert(spent)
		}
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cost_events (day, tier, model, prompt_tokens, completion_tokens, cost_usd, saved_usd, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		day, ev.Tier, ev.Model, ev.PromptTokens, ev.CompletionTokens, ev.CostUSD, ev.SavedUSD, string(ev.Source), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("commit cost event: %w", err)
	}
	return nil
}

// CurrentSpend returns committed spend for a day bucket.
func (l *SQLiteLedger) CurrentSpend(ctx context.Context, day string) (float64, error) {
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_events WHERE day = ?`, day,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("current spend: %w", err)
	}
	return total, nil
}

// Remaining returns today's unreserved budget.
func (l *SQLiteLedger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	rem := l.budget.DailyBudgetUSD - l.spent - l.reserved
	if rem < 0 {
		return 0
	}
	return rem
}

// SpentRatio returns today's committed spend as a fraction of the budget.
func (l *SQLiteLedger) SpentRatio() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.budget.DailyBudgetUSD <= 0 {
		return 1
	}
	return l.spent / l.budget.DailyBudgetUSD
}

// Today returns the current budget day bucket.
func (l *SQLiteLedger) Today() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.day
}

// DailySummary aggregates one day of ledger activity.
func (l *SQLiteLedger) DailySummary(ctx context.Context, day string) (models.DailySummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT tier, source, COUNT(*), SUM(cost_usd), SUM(saved_usd) FROM cost_events
		 WHERE day = ? GROUP BY tier, source`, day,
	)
	if err != nil {
		return models.DailySummary{}, fmt.Errorf("daily summary: %w", err)
	}
	defer rows.Close()

	s := models.DailySummary{
		Date:      day,
		TierCosts: make(map[string]float64),
		TierHits:  make(map[string]int),
	}
	for rows.Next() {
		var tier, source string
		var hits int
		var cost, saved float64
		if err := rows.Scan(&tier, &source, &hits, &cost, &saved); err != nil {
			return models.DailySummary{}, fmt.Errorf("scan summary: %w", err)
		}
		s.TierCosts[tier] += cost
		s.TierHits[tier] += hits
		s.TotalCostUSD += cost
		s.TotalSavedUSD += saved
		switch models.CostSource(source) {
		case models.SourcePattern:
			s.PatternHits += hits
		case models.SourceCache:
			s.CacheHits += hits
		}
	}
	if err := rows.Err(); err != nil {
		return models.DailySummary{}, fmt.Errorf("daily summary: %w", err)
	}
	s.BudgetRemainingUSD = l.budget.DailyBudgetUSD - s.TotalCostUSD
	s.OverBudget = s.TotalCostUSD > l.budget.DailyBudgetUSD
	return s, nil
}

// TierHitRates returns each tier's share of calls over the last N days.
func (l *SQLiteLedger) TierHitRates(ctx context.Context, days int) ([]models.TierHitRate, error) {
	since := l.dayBucket(l.now().AddDate(0, 0, -days))
	rows, err := l.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM cost_events WHERE day >= ? GROUP BY tier ORDER BY tier`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("tier hit rates: %w", err)
	}
	defer rows.Close()

	var rates []models.TierHitRate
	total := 0
	for rows.Next() {
		var r models.TierHitRate
		if err := rows.Scan(&r.Tier, &r.Hits); err != nil {
			return nil, fmt.Errorf("scan hit rate: %w", err)
		}
		total += r.Hits
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tier hit rates: %w", err)
	}
	for i := range rates {
		if total > 0 {
			rates[i].Rate = float64(rates[i].Hits) / float64(total)
		}
	}
	return rates, nil
}

// RetirementCandidates returns paid tiers whose hit rate over the last seven
// days fell below the retirement threshold.
func (l *SQLiteLedger) RetirementCandidates(ctx context.Context, paid map[string]bool) ([]string, error) {
	rates, err := l.TierHitRates(ctx, 7)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rates {
		if paid[r.Tier] && r.Rate < retirementThreshold {
			out = append(out, r.Tier)
		}
	}
	return out, nil
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
