// Package render provides output rendering for the retort CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// --no-color affects table output only; the watch TUI uses its own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/retort-io/retort/journal"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Outcome colors for the journal table, matching the watch TUI palette.
var (
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	faultedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context, applying the format
// selection rules above.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	formatStr := c.String("format")
	format, err := ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}

	// Apply default format based on TTY detection
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format. Table format has a
// dedicated layout for journal records; any other value is rendered as a
// key/value listing.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

func (r *Renderer) renderTable(data any) error {
	if records, ok := data.([]*journal.ExchangeRecord); ok {
		return r.renderExchanges(records)
	}
	// A single value (version info, a snapshot) reads fine as a
	// key/value listing.
	return r.renderYAML(data)
}

func (r *Renderer) renderExchanges(records []*journal.ExchangeRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "SEQ\tINSTRUCTION\tOUTCOME\tVALUE\tFAULT\tDURATION")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%dms\n",
			rec.Sequence,
			rec.Instruction,
			r.outcomeCell(rec.Outcome),
			rec.Value,
			rec.FaultCode,
			rec.DurationMs,
		)
	}
	return nil
}

func (r *Renderer) outcomeCell(outcome journal.Outcome) string {
	if r.noColor {
		return string(outcome)
	}
	switch outcome {
	case journal.OutcomeDone:
		return doneStyle.Render(string(outcome))
	case journal.OutcomeFaulted:
		return faultedStyle.Render(string(outcome))
	default:
		return neutralStyle.Render(string(outcome))
	}
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
