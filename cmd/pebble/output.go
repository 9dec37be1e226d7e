package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"pebble/internal/materialize"
	"pebble/internal/registry"
	"pebble/internal/state"
	"pebble/internal/throw"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func kindMark(kind string) string {
	switch kind {
	case throw.Added:
		return green("A")
	case throw.Modified:
		return yellow("M")
	case throw.Deleted:
		return red("D")
	}
	return "?"
}

func printChanges(w io.Writer, cs throw.ChangeSet) {
	for _, p := range cs.Paths() {
		fmt.Fprintf(w, "\t%s %s\n", kindMark(cs.Kind(p)), p)
	}
}

func printStaged(w io.Writer, staged []state.StagedChange) {
	for _, c := range staged {
		size := ""
		if c.Kind != throw.Deleted {
			size = " (" + humanize.Bytes(uint64(c.Size)) + ")"
		}
		fmt.Fprintf(w, "\t%s %s%s\n", kindMark(c.Kind), c.Path, size)
	}
}

func printResult(w io.Writer, res *materialize.Result) {
	if !res.Changed() {
		fmt.Fprintln(w, "Working tree already up to date")
		return
	}
	for _, p := range res.Written {
		fmt.Fprintf(w, "\t%s %s\n", green("W"), p)
	}
	for _, p := range res.Removed {
		fmt.Fprintf(w, "\t%s %s\n", red("R"), p)
	}
	fmt.Fprintf(w, "%d written, %d removed, %d unchanged\n", len(res.Written), len(res.Removed), res.Unchanged)
}

func printColoredDiff(w io.Writer, diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			added.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func printHistory(w io.Writer, records []*throw.Record, head string) error {
	var table = tablewriter.NewWriter(w)
	table.Header("Throw", "Parent", "When", "+", "~", "-", "Message")

	var rows [][]string
	for _, r := range records {
		id := r.ID
		if id == head {
			id = cyan(id)
		}
		rows = append(rows, []string{
			id,
			r.ParentID,
			shortTime(r.Timestamp),
			fmt.Sprintf("%d", len(r.Changes.Added)),
			fmt.Sprintf("%d", len(r.Changes.Modified)),
			fmt.Sprintf("%d", len(r.Changes.Deleted)),
			r.Message,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("building log table: %w", err)
	}
	return table.Render()
}

func printProjects(w io.Writer, entries []registry.Entry) error {
	var table = tablewriter.NewWriter(w)
	table.Header("Name", "Location", "Head", "Created", "Description")

	var rows [][]string
	for _, e := range entries {
		rows = append(rows, []string{
			e.Name,
			e.Location,
			e.HeadID,
			shortTime(e.Date),
			e.Desc,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("building project table: %w", err)
	}
	return table.Render()
}
