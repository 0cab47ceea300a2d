/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_automation/internal/db"
	"github.com/friendsincode/grimnir_automation/internal/logging"
	"github.com/friendsincode/grimnir_automation/internal/schedule"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <library.yaml>",
	Short: "Import media, playlists, events and fill rules",
	Long: `Load a library document into the database.

Media rows are updated in place by URL, named playlists are replaced whole,
events already scheduled for the same URL and time are skipped and fill rules
are appended. Use "-" to read from stdin.

Examples:
  grimnirautomation import library.yaml --dry-run
  grimnirautomation export | grimnirautomation import -
`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the library as YAML",
	Long:  "Write media, playlists, events and fill rules as one library document, to stdout when no file is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the document without writing")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open library: %w", err)
		}
		defer f.Close()
		in = f
	}

	lib, err := schedule.DecodeLibrary(in)
	if err != nil {
		return err
	}
	if importDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "valid: %d media, %d playlists, %d events, %d fill rules\n",
			len(lib.Media), len(lib.Playlists), len(lib.Events), len(lib.FillRules))
		return nil
	}

	if err := loadConfig(); err != nil {
		return err
	}
	database, err := openDatabase(false)
	if err != nil {
		return err
	}
	defer db.Close(database)

	res, err := schedule.NewLibraryService(database, nil, logger).Import(cmd.Context(), lib)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported: %d media, %d playlists, %d events (%d skipped), %d fill rules\n",
		res.Media, res.Playlists, res.Events, res.Skipped, res.FillRules)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	toStdout := len(args) == 0
	if toStdout {
		// stdout carries the document
		logger = logging.New(logging.Options{Environment: cfg.Environment, Level: cfg.LogLevel, Out: cmd.ErrOrStderr()})
	}
	database, err := openDatabase(toStdout)
	if err != nil {
		return err
	}
	defer db.Close(database)

	lib, err := schedule.NewLibraryService(database, nil, logger).Export(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !toStdout {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return lib.Encode(out)
}

// openDatabase connects and brings the schema up to date. Quiet drops
// gorm's SQL logging.
func openDatabase(quiet bool) (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if quiet {
		database = database.Session(&gorm.Session{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, nil
}
