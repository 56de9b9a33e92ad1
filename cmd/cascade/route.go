package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cascadelabs/cascade/pkg/backend"
	cachepkg "github.com/cascadelabs/cascade/pkg/cache/sqlite"
	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/engine"
	"github.com/cascadelabs/cascade/pkg/ledger"
	"github.com/cascadelabs/cascade/pkg/models"
	"github.com/cascadelabs/cascade/pkg/patterns"
	"github.com/cascadelabs/cascade/pkg/tiers"
)

func newRouteCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Route a prompt through the escalation ladder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			reg, err := tiers.NewRegistry(cfg)
			if err != nil {
				return fmt.Errorf("build tier registry: %w", err)
			}

			be, err := backend.NewHTTP(cfg.Backend.URL, cfg.Backend.APIKey)
			if err != nil {
				return fmt.Errorf("init backend: %w", err)
			}

			led, err := ledger.New(cfg.DBPath, cfg.Budget, nil)
			if err != nil {
				return fmt.Errorf("init ledger: %w", err)
			}
			defer func() { _ = led.Close() }()

			var cache engine.Cache
			if cfg.Cache.Enabled {
				c, err := cachepkg.New(cfg.DBPath,
					time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxEntries)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = c.Close() }()
				cache = c
			}

			matcher, err := patterns.Load(cfg.Patterns.SpecialistsPath, cfg.Patterns.MinPatternConfidence)
			if err != nil {
				return fmt.Errorf("load specialists: %w", err)
			}

			eng := engine.New(cfg, reg, be, led, cache, matcher)

			ctx := context.Background()
			if watch {
				w, err := config.NewWatcher(configPath, eng.SetGates)
				if err != nil {
					return fmt.Errorf("init config watcher: %w", err)
				}
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()
				go w.Run(ctx)
			}

			resp, err := eng.Route(ctx, models.Request{
				Prompt:    strings.Join(args, " "),
				SessionID: sessionID,
				ArrivedAt: time.Now(),
			})
			if err != nil {
				return err
			}

			fmt.Println(resp.Text)
			fmt.Printf("\nchain:      %s\n", strings.Join(resp.ProviderChain, " -> "))
			fmt.Printf("confidence: %.2f\n", resp.Confidence)
			fmt.Printf("cost:       $%.4f\n", resp.CostUSD)
			fmt.Printf("latency:    %dms\n", resp.LatencyMs)
			if resp.BudgetCapped {
				fmt.Println("note:       escalation stopped by budget cap")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cascade.yaml", "path to config file")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID for cache scoping")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload confidence gates when the config file changes")
	return cmd
}
