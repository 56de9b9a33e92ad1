package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "cascade",
		Short:   "Confidence-gated tiered LLM router with cost budgets",
		Version: version,
	}

	root.AddCommand(
		newRouteCmd(),
		newCostCmd(),
		newCacheCmd(),
		newPatternsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
