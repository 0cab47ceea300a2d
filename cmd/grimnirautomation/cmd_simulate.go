/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_automation/internal/logging"
	"github.com/friendsincode/grimnir_automation/internal/simulate"
)

var (
	simulatePasses  int
	simulateVerbose bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a queue scenario offline",
	Long: `Load a YAML scenario into an in-memory queue and player bank, run manager
passes against a simulated clock and print the projected timeline.

No database or network is touched.

Examples:
  grimnirautomation simulate morning.yaml
  grimnirautomation simulate morning.yaml --passes 60 -v
`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulatePasses, "passes", 0, "Override the scenario's pass count")
	simulateCmd.Flags().BoolVarP(&simulateVerbose, "verbose", "v", false, "Log queue activity to stderr")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sc, err := simulate.Load(args[0])
	if err != nil {
		return err
	}
	if simulatePasses > 0 {
		sc.Passes = simulatePasses
	}

	log := zerolog.Nop()
	if simulateVerbose {
		log = logging.New(logging.Options{Level: "debug", Out: cmd.ErrOrStderr()})
	}

	report, runErr := simulate.Run(cmd.Context(), sc, log)
	if report == nil {
		return runErr
	}
	if err := simulate.Render(cmd.OutOrStdout(), report); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if runErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warnings:\n%v\n", runErr)
	}
	return nil
}
