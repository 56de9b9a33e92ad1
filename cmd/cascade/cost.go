package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/ledger"
	"github.com/cascadelabs/cascade/pkg/models"
	"github.com/cascadelabs/cascade/pkg/tiers"
)

func newCostCmd() *cobra.Command {
	var (
		configPath string
		date       string
		asJSON     bool
		showTiers  bool
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show the daily cost summary and budget headroom",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			led, err := ledger.New(cfg.DBPath, cfg.Budget, nil)
			if err != nil {
				return err
			}
			defer func() { _ = led.Close() }()

			if showTiers {
				reg, err := tiers.NewRegistry(cfg)
				if err != nil {
					return fmt.Errorf("build tier registry: %w", err)
				}
				paid := make(map[string]bool, len(reg.Ladder()))
				for _, t := range reg.Ladder() {
					paid[t.Name] = t.Paid()
				}
				ctx := context.Background()
				rates, err := led.TierHitRates(ctx, 7)
				if err != nil {
					return err
				}
				retire, err := led.RetirementCandidates(ctx, paid)
				if err != nil {
					return err
				}
				fmt.Print(formatTierReport(rates, retire))
				return nil
			}

			day := led.Today()
			if date != "" {
				if _, err := time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("invalid --date (use YYYY-MM-DD): %w", err)
				}
				day = date
			}

			summary, err := led.DailySummary(context.Background(), day)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Print(formatSummary(summary))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cascade.yaml", "path to config file")
	cmd.Flags().StringVar(&date, "date", "", "day to summarize (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	cmd.Flags().BoolVar(&showTiers, "tiers", false, "show per-tier hit rates and retirement candidates (last 7 days)")
	return cmd
}

// formatTierReport renders tier hit rates and flags paid tiers whose share of
// calls fell below the retirement threshold.
func formatTierReport(rates []models.TierHitRate, retire []string) string {
	var b strings.Builder
	if len(rates) == 0 {
		b.WriteString("No tier activity in the last 7 days.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%-20s %8s %8s\n", "TIER", "CALLS", "SHARE")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, r := range rates {
		fmt.Fprintf(&b, "%-20s %8d %7.1f%%\n", r.Tier, r.Hits, r.Rate*100)
	}
	for _, name := range retire {
		fmt.Fprintf(&b, "retirement candidate: %s (under 10%% of calls)\n", name)
	}
	return b.String()
}

func formatSummary(s models.DailySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n\n", s.Date)
	fmt.Fprintf(&b, "%-20s %8s %12s\n", "TIER", "CALLS", "COST")
	b.WriteString(strings.Repeat("-", 42) + "\n")

	names := make([]string, 0, len(s.TierHits))
	for name := range s.TierHits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%-20s %8d  $%10.4f\n", name, s.TierHits[name], s.TierCosts[name])
	}
	b.WriteString(strings.Repeat("-", 42) + "\n")
	fmt.Fprintf(&b, "Spent:     $%.4f\n", s.TotalCostUSD)
	fmt.Fprintf(&b, "Saved:     $%.4f (cache: %d, patterns: %d)\n", s.TotalSavedUSD, s.CacheHits, s.PatternHits)
	fmt.Fprintf(&b, "Remaining: $%.4f\n", s.BudgetRemainingUSD)
	if s.OverBudget {
		b.WriteString("WARNING: over daily budget\n")
	}
	return b.String()
}
