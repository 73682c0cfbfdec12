package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/fpang/cinema-sync/internal/pipeline"
	"github.com/fpang/cinema-sync/internal/quota"
)

// Printer renders pipeline results for a terminal.
type Printer struct {
	out       io.Writer
	useColors bool
}

// NewPrinter writes to out. Colors are disabled when NO_COLOR is set or
// TERM is dumb.
func NewPrinter(out io.Writer, useColors bool) *Printer {
	if _, ok := os.LookupEnv("NO_COLOR"); ok || os.Getenv("TERM") == "dumb" {
		useColors = false
	}
	return &Printer{out: out, useColors: useColors}
}

func (p *Printer) table(headers []string, rows [][]string) {
	table := tablewriter.NewTable(p.out,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	table.Header(headers)
	table.Bulk(rows)
	table.Render()
}

func (p *Printer) header(title string) {
	if p.useColors {
		color.New(color.Bold).Fprintf(p.out, "\n%s\n", title)
	} else {
		fmt.Fprintf(p.out, "\n%s\n", title)
	}
	fmt.Fprintln(p.out, strings.Repeat("-", len([]rune(title))))
}

// statusLabel colors an outcome status.
func (p *Printer) statusLabel(s pipeline.Status) string {
	if !p.useColors {
		return string(s)
	}
	switch s {
	case pipeline.StatusSuccess:
		return color.GreenString(string(s))
	case pipeline.StatusFailed:
		return color.RedString(string(s))
	case pipeline.StatusNotAttempted:
		return color.YellowString(string(s))
	default:
		return color.New(color.Faint).Sprint(string(s))
	}
}

// Outcome prints a single-cinema result.
func (p *Printer) Outcome(o pipeline.Outcome) {
	p.header(fmt.Sprintf("%s (%s)", o.Name, o.CinemaID))
	rows := [][]string{
		{"Status", p.statusLabel(o.Status)},
		{"Titles found", strconv.Itoa(o.MoviesFound)},
		{"Titles matched", strconv.Itoa(o.MoviesMatched)},
		{"Duration", FormatDurationShort(time.Duration(o.DurationMs) * time.Millisecond)},
	}
	if len(o.MovieIDs) > 0 {
		rows = append(rows, []string{"Movie IDs", joinInts(o.MovieIDs)})
	}
	if len(o.Unmatched) > 0 {
		rows = append(rows, []string{"Unmatched", strings.Join(o.Unmatched, "; ")})
	}
	if o.Error != "" {
		rows = append(rows, []string{"Error", o.Error})
	}
	p.table([]string{"Field", "Value"}, rows)
}

// Report prints a batch report: one row per cinema, then totals and quota.
func (p *Printer) Report(r *pipeline.Report) {
	p.header("Cinemas")
	rows := make([][]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		detail := o.Error
		if detail == "" && len(o.Unmatched) > 0 {
			detail = "unmatched: " + strings.Join(o.Unmatched, "; ")
		}
		rows = append(rows, []string{
			o.CinemaID,
			o.Name,
			p.statusLabel(o.Status),
			strconv.Itoa(o.MoviesFound),
			strconv.Itoa(o.MoviesMatched),
			detail,
		})
	}
	p.table([]string{"ID", "Name", "Status", "Found", "Matched", "Detail"}, rows)

	p.header("Summary")
	summary := [][]string{
		{"Run", r.RunID},
		{"Eligible", strconv.Itoa(r.Eligible)},
		{"Cap", strconv.Itoa(r.Cap)},
		{"Succeeded", strconv.Itoa(r.Succeeded)},
		{"Failed", strconv.Itoa(r.Failed)},
		{"Not attempted", strconv.Itoa(r.NotAttempted)},
		{"Movies matched", strconv.Itoa(r.MoviesMatched)},
		{"Duration", FormatDurationShort(time.Duration(r.DurationMs) * time.Millisecond)},
	}
	if r.StopReason != quota.ReasonNone {
		summary = append(summary, []string{"Stopped early", string(r.StopReason)})
	}
	p.table([]string{"Field", "Value"}, summary)

	p.Quota(r.Quota)
}

// Overview prints the result of the status operation.
func (p *Printer) Overview(o *pipeline.Overview) {
	p.header("Cinemas")
	p.table([]string{"Field", "Value"}, [][]string{
		{"Eligible", strconv.Itoa(o.Eligible)},
		{"With URL", strconv.Itoa(o.WithURL)},
		{"Without URL", strconv.Itoa(o.WithoutURL)},
		{"Next batch cap", strconv.Itoa(o.BatchCap)},
		{"Gemini configured", p.yesNo(o.GeminiConfigured)},
		{"TMDB configured", p.yesNo(o.CatalogConfigured)},
	})
	p.Quota(o.Quota)
}

// Quota prints per-identity usage.
func (p *Printer) Quota(s quota.Snapshot) {
	p.header("Quota (" + s.Day + ")")
	rows := make([][]string, 0, len(s.Identities))
	for _, u := range s.Identities {
		name := u.Identity
		if u.Active {
			name += " *"
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d/%d", u.RPMCurrent, u.RPMLimit),
			FormatUsage(u.RequestsUsed, u.RequestsHardLimit, u.RequestsPercent),
			strconv.Itoa(u.RequestsRemaining),
			FormatUsage(u.TokensUsed, u.TokensHardLimit, u.TokensPercent),
			strconv.FormatInt(u.TokensRemaining, 10),
		})
	}
	p.table([]string{"Model", "RPM", "Requests", "Req left", "Tokens", "Tokens left"}, rows)
}

func (p *Printer) yesNo(v bool) string {
	switch {
	case v && p.useColors:
		return color.GreenString("yes")
	case v:
		return "yes"
	case p.useColors:
		return color.RedString("no")
	default:
		return "no"
	}
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
