// Package report compares the results of both backends, decides a winner
// per objective and renders the comparison as markdown, JSON and charts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/weiihann/dbcompare/harness"
)

// ResultsFile is the name of the exported JSON artifact.
const ResultsFile = "dbcompare_results.json"

// Generate writes a markdown summary of the comparison to w.
func Generate(w io.Writer, rep ComparisonReport) error {
	if empty(rep) {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "## Comparison Results")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Objective | Winner | Basis |")
	fmt.Fprintln(w, "|-----------|--------|-------|")

	for _, obj := range harness.Objectives() {
		or := rep.Objective(obj)
		fmt.Fprintf(w, "| %s | **%s** | %s |\n", obj, or.Winner, or.Basis)
	}

	for _, obj := range harness.Objectives() {
		fmt.Fprintln(w)
		writeObjective(w, obj, rep.Objective(obj))
	}

	return nil
}

func writeObjective(w io.Writer, obj harness.Objective, or *ObjectiveReport) {
	fmt.Fprintf(w, "### %s\n", obj)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Backend | Experiments | Operations | Succeeded | Rejected | Failed | Elapsed | Throughput |")
	fmt.Fprintln(w, "|---------|-------------|------------|-----------|----------|--------|---------|------------|")

	for _, b := range harness.Backends() {
		br, ok := or.Backends[b]
		if !ok {
			continue
		}

		var ops, succeeded, rejected, failed int
		var elapsedMs float64

		for _, r := range br.Experiments {
			ops += r.Summary.Operations
			succeeded += r.Summary.Succeeded
			rejected += r.Summary.Rejected
			failed += r.Summary.Failed
			elapsedMs += r.Summary.ElapsedMs
		}

		throughput := harness.Ratio(float64(succeeded), elapsedMs/1000)

		fmt.Fprintf(w, "| %s | %d | %s | %s | %s | %s | %s | %s |\n",
			b,
			len(br.Experiments),
			humanize.Comma(int64(ops)),
			humanize.Comma(int64(succeeded)),
			humanize.Comma(int64(rejected)),
			humanize.Comma(int64(failed)),
			formatMs(elapsedMs),
			formatThroughput(throughput),
		)
	}

	if len(or.Comparisons) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "| Metric | Size | %s | %s | Winner |\n", harness.MongoDB, harness.PostgreSQL)
		fmt.Fprintln(w, "|--------|------|----|----|--------|")

		for _, c := range or.Comparisons {
			size := "-"
			if c.DatasetSize > 0 {
				size = humanize.Comma(int64(c.DatasetSize))
			}

			fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
				c.Metric,
				size,
				formatValue(c.Values[harness.MongoDB], c.Unit),
				formatValue(c.Values[harness.PostgreSQL], c.Unit),
				c.Winner,
			)
		}
	}

	if checks := checklistNames(or); len(checks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "| Check | %s | %s |\n", harness.MongoDB, harness.PostgreSQL)
		fmt.Fprintln(w, "|-------|----|----|")

		for _, name := range checks {
			fmt.Fprintf(w, "| %s | %s | %s |\n",
				name,
				formatCheck(or.Backends[harness.MongoDB], name),
				formatCheck(or.Backends[harness.PostgreSQL], name),
			)
		}
	}

	writeProblems(w, or)
}

// writeProblems lists backend errors, experiment errors and every
// operation that did not succeed.
func writeProblems(w io.Writer, or *ObjectiveReport) {
	var lines []string

	for _, b := range harness.Backends() {
		br, ok := or.Backends[b]
		if !ok {
			continue
		}

		if br.Error != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", b, br.Error))
		}

		for _, r := range br.Experiments {
			if r.Error != "" {
				lines = append(lines, fmt.Sprintf("- %s / %s: %s", b, r.Name, r.Error))
			}

			for _, op := range r.Operations {
				if op.Outcome == harness.OutcomeFailed {
					lines = append(lines, fmt.Sprintf("- %s / %s / %s %q: %s", b, r.Name, op.Kind, op.Label, op.Reason))
				}
			}
		}
	}

	if len(lines) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Failures:")

	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

// WriteJSON writes the report as indented JSON to w.
func WriteJSON(w io.Writer, rep ComparisonReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(rep)
}

// SaveJSON writes the report to ResultsFile in dir and returns its path.
func SaveJSON(dir string, rep ComparisonReport) (string, error) {
	path := filepath.Join(dir, ResultsFile)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if err := WriteJSON(f, rep); err != nil {
		f.Close()

		return "", fmt.Errorf("write %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	return path, nil
}

func empty(rep ComparisonReport) bool {
	for _, obj := range harness.Objectives() {
		if len(rep.Objective(obj).Backends) > 0 {
			return false
		}
	}

	return true
}

func checklistNames(or *ObjectiveReport) []string {
	for _, b := range harness.Backends() {
		br, ok := or.Backends[b]
		if ok && len(br.Checklist) > 0 {
			return sortedKeys(br.Checklist)
		}
	}

	return nil
}

func formatCheck(br *BackendReport, name string) string {
	if br == nil || br.Checklist == nil {
		return "-"
	}

	if br.Checklist[name] {
		return "yes"
	}

	return "no"
}

func formatValue(v *float64, unit string) string {
	if v == nil {
		return "-"
	}

	if unit == "ms" {
		return formatMs(*v)
	}

	return humanize.FormatFloat("#,###.##", *v)
}

func formatThroughput(r harness.Rate) string {
	if !r.Valid {
		return r.String()
	}

	return humanize.FormatFloat("#,###.#", r.Value) + " ops/s"
}

func formatMs(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}

	return fmt.Sprintf("%.2fs", ms/1000)
}
