/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package simulate

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/friendsincode/grimnir_automation/internal/queue"
)

// Render writes the initial projection, the pass log and the final queue.
func Render(w io.Writer, r *Report) error {
	sections := []struct {
		title string
		body  string
	}{
		{"Projected at " + r.Start.UTC().Format(time.RFC3339), entriesTable(r.Initial)},
		{"Passes", stepsTable(r.Steps)},
		{"Final queue", entriesTable(r.Final)},
	}
	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "%s\n%s\n\n", s.title, s.body); err != nil {
			return err
		}
	}
	return nil
}

func entriesTable(entries []queue.EntryInfo) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "URL", "Type", "Status", "Start", "End", "Target", "Error"})
	for i, e := range entries {
		target, terr := "", ""
		if e.TargetTime > 0 {
			target = clockTime(e.TargetTime)
			terr = strconv.FormatFloat(e.TargetError, 'f', 1, 64)
		}
		tw.AppendRow(table.Row{i, e.URL, string(e.Type), e.Status, clockTime(e.Start), clockTime(e.End), target, terr})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	return tw.Render()
}

func stepsTable(steps []Step) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Pass", "At", "Playing", "Len", "Loaded", "Segues", "Swaps", "Deleted", "Halted"})
	for _, s := range steps {
		halted := ""
		if s.Result.Halted {
			halted = "yes"
		}
		tw.AppendRow(table.Row{
			s.Index, s.At.UTC().Format("15:04:05"), s.Playing, s.Length,
			s.Result.Loaded, s.Result.Segues, s.Result.Swaps, s.Result.Deleted, halted,
		})
	}
	return tw.Render()
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

func clockTime(sec float64) string {
	if sec <= 0 {
		return ""
	}
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC().Format("15:04:05")
}
