/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_automation/internal/db"
	"github.com/friendsincode/grimnir_automation/internal/models"
)

var (
	resetForce   bool
	resetLibrary bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the play log and automation state",
	Long: `Reset Grimnir Automation to a fresh state.

This command will:
- Delete the play log
- Forget the persisted automation mode and fill playlist positions
- Optionally delete the media library, playlists, scheduled events and fill rules

WARNING: This action is irreversible!

Examples:
  # Interactive reset (will prompt for confirmation)
  grimnirautomation reset

  # Also clear the library, without confirmation
  grimnirautomation reset --library --force
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetLibrary, "library", false, "Also delete the library tables")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		ok, err := confirmReset(cmd.InOrStdin(), cmd.OutOrStdout(), resetLibrary)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled.")
			return nil
		}
	}

	logger.Info().Bool("library", resetLibrary).Msg("Starting reset")

	database, err := openDatabase(false)
	if err != nil {
		return err
	}
	defer db.Close(database)

	counts, err := resetTables(database, resetTargets(resetLibrary))
	if err != nil {
		return err
	}
	for table, n := range counts {
		logger.Info().Str("table", table).Int64("rows", n).Msg("table cleared")
	}

	logger.Info().Msg("Reset complete")
	return nil
}

func confirmReset(in io.Reader, out io.Writer, library bool) (bool, error) {
	fmt.Fprintln(out, "This will DELETE from Grimnir Automation:")
	fmt.Fprintln(out, "  - the play log")
	fmt.Fprintln(out, "  - the automation mode and fill playlist positions")
	if library {
		fmt.Fprintln(out, "  - ALL media, playlists, scheduled events and fill rules")
	}
	fmt.Fprintln(out, "This action CANNOT be undone!")
	fmt.Fprint(out, "Type 'yes' to confirm reset: ")

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes", nil
}

func resetTargets(library bool) []any {
	targets := []any{
		&models.LogEntry{},
		&models.AutomationState{},
		&models.FillCursor{},
	}
	if library {
		targets = append(targets,
			&models.PlaylistItem{},
			&models.ScheduledEvent{},
			&models.FillRule{},
			&models.MediaItem{},
		)
	}
	return targets
}

// resetTables deletes every row of each model in one transaction and
// returns the row counts by table name.
func resetTables(database *gorm.DB, targets []any) (map[string]int64, error) {
	counts := make(map[string]int64, len(targets))
	err := database.Transaction(func(tx *gorm.DB) error {
		for _, model := range targets {
			stmt := &gorm.Statement{DB: tx}
			if err := stmt.Parse(model); err != nil {
				return fmt.Errorf("parse model: %w", err)
			}
			res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model)
			if res.Error != nil {
				return fmt.Errorf("clear %s: %w", stmt.Schema.Table, res.Error)
			}
			counts[stmt.Schema.Table] = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
