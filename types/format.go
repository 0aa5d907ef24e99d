package types

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

const MissingValue = "[Missing]"

// FormatFieldTable renders every label with its collected value, or MissingValue,
// as a markdown table in labelset order.
func FormatFieldTable(labelset []string, responses map[string]string) string {
	if len(labelset) == 0 {
		return "None yet."
	}
	var buf strings.Builder
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Field", "Label", "Value")
	for _, label := range labelset {
		value, ok := responses[label]
		if !ok {
			value = MissingValue
		}
		_ = table.Append([]string{ReadableLabel(label), label, value})
	}
	_ = table.Render()
	return strings.TrimRight(buf.String(), "\n")
}

// FormatLabelList joins labels with ", " or returns fallback when there are none.
func FormatLabelList(labels []string, fallback string) string {
	if len(labels) == 0 {
		return fallback
	}
	return strings.Join(labels, ", ")
}
