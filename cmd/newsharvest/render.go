package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pevans/newsharvest"
	"github.com/pevans/newsharvest/scheduler"
	"github.com/pevans/newsharvest/topics"
)

// renderTopics prints the collectable topics followed by the unreachable
// references.
func renderTopics(w io.Writer, registry *topics.Registry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Category", "Subcategory", "Kind", "Endpoint", "Reference"})

	for _, topic := range registry.Topics() {
		t.AppendRow(table.Row{topic.Category, topic.Subcategory, topic.Kind, topic.Endpoint, topic.Reference})
	}
	for _, u := range registry.Unreachable() {
		t.AppendRow(table.Row{u.Category, u.Subcategory, "unreachable", "", u.Reference})
	}

	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d topics", len(registry.Topics())), fmt.Sprintf("%d unreachable", len(registry.Unreachable()))})
	t.Render()
}

// renderReport prints the run summary and one row per failure.
func renderReport(w io.Writer, report scheduler.Report) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Run " + report.RunID)
	summary.AppendRows([]table.Row{
		{"Topics succeeded", len(report.TopicsSucceeded)},
		{"Topics failed", len(report.TopicsFailed)},
		{"Entries listed", report.EntriesListed},
		{"Batches written", report.BatchesWritten},
		{"Records written", report.RecordsWritten},
		{"Partial records", report.PartialRecords},
		{"Chunk failures", len(report.ChunkFailures)},
	})
	summary.Render()

	if len(report.TopicsFailed) == 0 && len(report.ChunkFailures) == 0 {
		return
	}

	failures := table.NewWriter()
	failures.SetOutputMirror(w)
	failures.SetStyle(table.StyleLight)
	failures.AppendHeader(table.Row{"Failed", "Error"})
	for _, f := range report.TopicsFailed {
		failures.AppendRow(table.Row{"topic " + f.Topic.String(), f.Err})
	}
	for _, f := range report.ChunkFailures {
		failures.AppendRow(table.Row{fmt.Sprintf("chunk %d (%d entries)", f.Index, f.Size), f.Err})
	}
	failures.Render()
}

// renderRecords prints one row per record with the title truncated.
func renderRecords(w io.Writer, records []newsharvest.EnrichedRecord, total int) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records to display.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Category", "Subcategory", "Published", "Title", "Partial"})

	for _, r := range records {
		partial := ""
		if r.Partial {
			partial = "yes"
		}
		t.AppendRow(table.Row{r.ID, r.Category, r.Subcategory, r.PublishedAt, truncate(r.Title, 60), partial})
	}

	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("showing %d of %d records", len(records), total), ""})
	t.Render()
}

// renderRecord prints every field of one record.
func renderRecord(w io.Writer, r newsharvest.EnrichedRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(r.Title)
	t.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Category", r.Category},
		{"Subcategory", r.Subcategory},
		{"Subtitle", r.Subtitle},
		{"Published", r.PublishedAt},
		{"URL", r.URL},
		{"Fetched", r.FetchedAt.Format("2006-01-02 15:04:05")},
		{"Partial", r.Partial},
		{"Images", strings.Join(r.Images, "\n")},
		{"Authors", strings.Join(r.Authors, "\n")},
	})
	for i, block := range r.TextBlocks {
		t.AppendRow(table.Row{fmt.Sprintf("Text %d", i+1), block})
	}
	t.Render()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
