package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidFormats lists the supported output formats.
var ValidFormats = []string{FormatText, FormatJSON, FormatYAML}

// IsValidFormat checks if format is a supported output format.
func IsValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Print writes result to w in the given format.
func Print(w io.Writer, format string, result *Result) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		return PrintText(w, result)
	case FormatJSON:
		return PrintJSON(w, result)
	case FormatYAML:
		return PrintYAML(w, result)
	default:
		return fmt.Errorf("unknown report format %q (valid: %s)", format, strings.Join(ValidFormats, ", "))
	}
}

// PrintText writes an aligned table followed by the summary.
func PrintText(w io.Writer, result *Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RELATION\tMATERIALIZATION\tPOPULATION\tSAMPLE\tSTATUS\tERROR")
	for _, r := range result.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Relation, r.Materialization, r.PopulationSize, r.SampleSize, r.Status, r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := result.Summary
	_, err := fmt.Fprintf(w,
		"\n%s %s (%s): %d relations in %d graphs, %d loaded, %d analyzed, %d unsampled, %d failed, %d skipped, %d rows in %s\n",
		result.Mode, result.RunID, result.Method,
		s.Relations, s.Graphs, s.Loaded, s.Analyzed, s.Unsampled, s.Failed, s.Skipped, s.RowsSampled, s.Elapsed)
	return err
}

// PrintJSON writes result as indented JSON.
func PrintJSON(w io.Writer, result *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// PrintYAML writes result as YAML.
func PrintYAML(w io.Writer, result *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(result); err != nil {
		return err
	}
	return enc.Close()
}
