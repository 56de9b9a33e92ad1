package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cascadelabs/cascade/pkg/config"
	"github.com/cascadelabs/cascade/pkg/patterns"
)

func newPatternsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List loaded pattern specialists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			m, err := patterns.Load(cfg.Patterns.SpecialistsPath, cfg.Patterns.MinPatternConfidence)
			if err != nil {
				return err
			}

			if m.Count() == 0 {
				fmt.Println("No pattern specialists loaded.")
				return nil
			}

			fmt.Printf("%-8s %-10s %-40s\n", "CLUSTER", "CONF", "RULE")
			fmt.Println(strings.Repeat("-", 60))
			for _, s := range m.Specialists() {
				active := ""
				if s.Confidence < cfg.Patterns.MinPatternConfidence {
					active = " (below threshold, inactive)"
				}
				fmt.Printf("%-8d %-10.2f %-40s%s\n", s.ClusterID, s.Confidence, s.RouteRule, active)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cascade.yaml", "path to config file")
	return cmd
}
