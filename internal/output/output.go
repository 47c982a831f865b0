package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/isq/internal/response"
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	magenta       = color.New(color.FgHiMagenta).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// SeverityColor returns the severity colored by its impact.
func SeverityColor(severity string) string {
	switch strings.ToUpper(severity) {
	case "BLOCKER":
		return magenta(severity)
	case "CRITICAL":
		return red(severity)
	case "MAJOR":
		return yellow(severity)
	case "MINOR":
		return cyan(severity)
	case "INFO":
		return faint(severity)
	default:
		return severity
	}
}

// StatusColor returns the string colored by issue status.
func StatusColor(status string) string {
	switch strings.ToUpper(status) {
	case "OPEN", "REOPENED":
		return green(status)
	case "CONFIRMED":
		return yellow(status)
	case "RESOLVED":
		return cyan(status)
	case "CLOSED":
		return red(status)
	default:
		return status
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// SearchResult renders a composed search payload as an issue table followed
// by the paging summary and any requested facets.
func (u *UI) SearchResult(p *response.Payload) error {
	if len(p.Issues) == 0 {
		u.Info("No issues found")
	} else {
		files := make(map[string]string, len(p.Components))
		for _, c := range p.Components {
			files[c.Key] = c.LongName
		}

		table := u.Table([]string{"Key", "Severity", "Status", "Rule", "Location", "Message"})
		for _, is := range p.Issues {
			location := files[is.Component]
			if location == "" {
				location = is.Component
			}
			if is.Line > 0 {
				location += ":" + strconv.Itoa(is.Line)
			}
			status := is.Status
			if is.Resolution != "" {
				status += "/" + is.Resolution
			}
			if err := table.Append([]string{
				is.Key,
				SeverityColor(is.Severity),
				StatusColor(status),
				is.Rule,
				location,
				truncate(is.Message, 60),
			}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	fmt.Fprintf(u.Out, "\n%s issues, page %d of %d (page size %d)\n",
		cyan(strconv.Itoa(p.Total)), p.Paging.PageIndex, max(p.Paging.Pages, 1), p.Paging.PageSize)

	for _, f := range p.Facets {
		fmt.Fprintf(u.Out, "\n%s\n", cyan(f.Property))
		for _, v := range f.Values {
			fmt.Fprintf(u.Out, "  %-30s %d\n", v.Val, v.Count)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
