package convert

import (
	"fmt"
	"strings"
	"time"
)

// ExportStatus classifies the outcome of one export.
type ExportStatus string

// Export outcomes.
const (
	StatusConverted  ExportStatus = "converted"
	StatusFailed     ExportStatus = "failed"
	StatusUnverified ExportStatus = "unverified" // written but failed read-back
)

// ExportResult records one export's outcome.
type ExportResult struct {
	Name     string
	File     string
	Status   ExportStatus
	Duration time.Duration
	Err      error
}

// Report collects the outcomes of a conversion run.
type Report struct {
	RunID   string
	Results []ExportResult
}

// Add appends one result.
func (r *Report) Add(res ExportResult) {
	r.Results = append(r.Results, res)
}

// Failed reports whether any export failed outright.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// String renders the report as a human-readable table.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conversion run %s\n", r.RunID)
	for _, res := range r.Results {
		fmt.Fprintf(&b, "  %-12s %-26s %-11s %s", res.Name, res.File, res.Status, res.Duration.Round(time.Millisecond))
		if res.Err != nil {
			fmt.Fprintf(&b, "  (%v)", res.Err)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
