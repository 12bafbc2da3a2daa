package quality

import (
	"fmt"
	"io"
)

// Grade buckets a quality score for display
func Grade(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

// WriteReport renders metrics as a plain-text report, listing at most
// maxErrors issues
func WriteReport(w io.Writer, m Metrics, maxErrors int) error {
	lines := []string{
		"Quality Analysis Report",
		"=======================",
		fmt.Sprintf("Total chunks:       %d", m.TotalChunks),
		fmt.Sprintf("Valid chunks:       %d", m.ValidChunks),
		fmt.Sprintf("Average size:       %.1f chars", m.AverageSize),
		fmt.Sprintf("Average complexity: %.1f", m.AverageComplexity),
		fmt.Sprintf("Duplicate chunks:   %d", m.DuplicateChunks),
		fmt.Sprintf("Empty chunks:       %d", m.EmptyChunks),
		fmt.Sprintf("Small chunks:       %d", m.SmallChunks),
		fmt.Sprintf("Large chunks:       %d", m.LargeChunks),
		fmt.Sprintf("Errors:             %d", len(m.Errors)),
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}

	if len(m.Errors) > 0 && maxErrors > 0 {
		if _, err := fmt.Fprintf(w, "\nTop %d errors:\n", min(maxErrors, len(m.Errors))); err != nil {
			return err
		}
		for i, issue := range m.Errors {
			if i >= maxErrors {
				break
			}
			if _, err := fmt.Fprintf(w, "  - %s\n", issue.Message); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "\nQuality score: %.1f/100 (%s)\n", m.QualityScore, Grade(m.QualityScore))
	return err
}
