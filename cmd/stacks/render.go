package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"stacks/internal/budget"
	"stacks/internal/queue"
)

func newConsoleTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

// rightAligned builds column configs that right-align the named numeric
// columns while keeping every header left-aligned.
func rightAligned(names ...string) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(names))
	for _, name := range names {
		configs = append(configs, table.ColumnConfig{
			Name:        name,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	return configs
}

func renderEntryTable(entries []*queue.Entry) string {
	tw := newConsoleTable()
	tw.AppendHeader(table.Row{"Key", "Title", "Author", "Series", "State", "Priority", "Discovered", "Note"})
	for _, entry := range entries {
		series := entry.Series
		if series != "" && entry.Sequence > 0 {
			series = fmt.Sprintf("%s #%d", series, entry.Sequence)
		}
		tw.AppendRow(table.Row{
			entry.DedupKey,
			entry.Title,
			entry.Author,
			series,
			string(entry.State),
			entry.Priority,
			humanize.Time(entry.DiscoveredAt),
			entry.ReviewNote,
		})
	}
	tw.SetColumnConfigs(rightAligned("Priority"))
	return tw.Render()
}

func renderBudgetTable(status *budget.Status) string {
	tw := newConsoleTable()
	tw.AppendHeader(table.Row{"Balance", "Buffer Floor", "Hard Cap", "Expires", "Days Left", "Signal"})
	tw.AppendRow(table.Row{
		humanize.Comma(status.Balance),
		humanize.Comma(status.BufferFloor),
		humanize.Comma(status.HardCap),
		status.MembershipExpiry.Format("2006-01-02"),
		status.DaysRemaining,
		string(status.Signal),
	})
	tw.SetColumnConfigs(rightAligned("Balance", "Buffer Floor", "Hard Cap", "Days Left"))
	return tw.Render()
}

func renderLedgerTable(records []*queue.LedgerEntry) string {
	tw := newConsoleTable()
	tw.AppendHeader(table.Row{"When", "Kind", "Amount", "Balance After"})
	for _, record := range records {
		tw.AppendRow(table.Row{
			record.CreatedAt.Format("2006-01-02 15:04"),
			string(record.Kind),
			humanize.Comma(record.Amount),
			humanize.Comma(record.ResultingBalance),
		})
	}
	tw.SetColumnConfigs(rightAligned("Amount", "Balance After"))
	return tw.Render()
}
