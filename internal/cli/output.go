// Package cli renders index responses for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/pkg/utils"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	// OutputText is styled, human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, compact, json)", s)
	}
}

// Theme is the color scheme for text output.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is used by WriteSearchResults.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00afff"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Header   lipgloss.Style
	Distance lipgloss.Style
	Meta     lipgloss.Style
	Body     lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Distance: lipgloss.NewStyle().Foreground(t.Primary),
		Meta:     lipgloss.NewStyle().Foreground(t.Dim),
		Body:     lipgloss.NewStyle().PaddingLeft(2),
	}
}

const snippetRunes = 200

// WriteSearchResults writes response to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			if _, err := fmt.Fprintf(w, "%d\t%.4f\t%s\n", r.Ordinal, r.Distance,
				utils.Truncate(strings.Join(strings.Fields(r.Text), " "), 80)); err != nil {
				return err
			}
		}
		return nil
	default:
		return writeSearchResultsText(w, response, NewStyles(DefaultTheme))
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse, st Styles) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n\n", st.Header.Render(
		fmt.Sprintf("Found %d results for %q in %dms", response.Total, response.Query, response.QueryTime)))
	for i, r := range response.Results {
		fmt.Fprintf(&b, "%s %s\n",
			st.Header.Render(fmt.Sprintf("%d.", i+1)),
			st.Distance.Render(fmt.Sprintf("distance %.4f  ordinal %d", r.Distance, r.Ordinal)))
		if meta := formatMetadata(r.Metadata); meta != "" {
			fmt.Fprintf(&b, "%s\n", st.Meta.Render(meta))
		}
		fmt.Fprintf(&b, "%s\n\n", st.Body.Render(utils.Truncate(r.Text, snippetRunes)))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	parts := make([]string, 0, len(meta))
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, " ")
}

// WriteStatus writes the index status as aligned text or JSON.
func WriteStatus(w io.Writer, st *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	label := lipgloss.NewStyle().Bold(true).Width(12)
	rows := [][2]string{
		{"State", st.State},
		{"Documents", fmt.Sprint(st.Documents)},
		{"Dimension", fmt.Sprint(st.Dimension)},
		{"Embedder", st.Embedder},
		{"Backend", st.Backend},
		{"Location", st.Location},
	}
	if st.DiskUsageByte > 0 {
		rows = append(rows, [2]string{"Disk usage", formatBytes(st.DiskUsageByte)})
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, label.Render(r[0]), r[1]))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
