package report

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/weiihann/dbcompare/harness"
)

// Chart is a grouped bar chart with one series per backend.
type Chart struct {
	Name       string
	Title      string
	YLabel     string
	Categories []string
	Series     []Series
}

// Series holds one value per chart category.
type Series struct {
	Label  string
	Values []float64
}

const barWidth = vg.Length(14)

// ChartData derives the charts from a report: one per objective and a
// combined chart of normalized scores. Charts without categories are
// omitted.
func ChartData(rep ComparisonReport) []Chart {
	charts := []Chart{
		elapsedChart("schema_flexibility", "Schema flexibility: elapsed per experiment", &rep.SchemaFlexibility,
			func(c Comparison) (string, bool) {
				return strings.TrimSuffix(c.Metric, " elapsed"), c.Unit == "ms"
			}),
		elapsedChart("performance", "CRUD performance: elapsed per operation kind", &rep.Performance,
			func(c Comparison) (string, bool) {
				kind := strings.TrimSuffix(c.Metric, " elapsed")

				return kind + "@" + humanize.Comma(int64(c.DatasetSize)), c.Metric != TotalMetric
			}),
		checklistChart(&rep.DataIntegrity),
		combinedChart(rep),
	}

	var out []Chart

	for _, c := range charts {
		if len(c.Categories) > 0 {
			out = append(out, c)
		}
	}

	return out
}

// RenderCharts writes every chart as a PNG into dir and returns the paths
// written. A chart that fails does not stop the others.
func RenderCharts(dir string, rep ComparisonReport) ([]string, error) {
	var (
		paths []string
		errs  []error
	)

	for _, c := range ChartData(rep) {
		path := filepath.Join(dir, c.Name+".png")

		if err := renderBarChart(c, path); err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", c.Name, err))

			continue
		}

		paths = append(paths, path)
	}

	return paths, errors.Join(errs...)
}

func renderBarChart(c Chart, path string) error {
	p := plot.New()
	p.Title.Text = c.Title
	p.Y.Label.Text = c.YLabel
	p.Y.Min = 0
	p.Legend.Top = true

	n := len(c.Series)
	for i, s := range c.Series {
		bars, err := plotter.NewBarChart(plotter.Values(s.Values), barWidth)
		if err != nil {
			return fmt.Errorf("series %s: %w", s.Label, err)
		}

		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = barWidth * vg.Length(float64(i)-float64(n-1)/2)

		p.Add(bars)
		p.Legend.Add(s.Label, bars)
	}

	p.NominalX(c.Categories...)

	if len(c.Categories) > 4 {
		p.X.Tick.Label.Rotation = math.Pi / 4
		p.X.Tick.Label.XAlign = draw.XRight
		p.X.Tick.Label.YAlign = draw.YCenter
	}

	width := vg.Length(max(6, len(c.Categories))) * vg.Inch

	return p.Save(width, 5*vg.Inch, path)
}

func elapsedChart(name, title string, or *ObjectiveReport, category func(Comparison) (string, bool)) Chart {
	chart := Chart{Name: name, Title: title, YLabel: "elapsed (ms)"}

	for _, c := range or.Comparisons {
		label, ok := category(c)
		if !ok {
			continue
		}

		chart.Categories = append(chart.Categories, label)
	}

	for _, b := range harness.Backends() {
		s := Series{Label: string(b)}

		for _, c := range or.Comparisons {
			if _, ok := category(c); !ok {
				continue
			}

			s.Values = append(s.Values, valueOrZero(c.Values[b]))
		}

		chart.Series = append(chart.Series, s)
	}

	return chart
}

func checklistChart(or *ObjectiveReport) Chart {
	chart := Chart{
		Name:       "data_integrity",
		Title:      "Data integrity: checks satisfied",
		YLabel:     "satisfied (1 = yes)",
		Categories: checklistNames(or),
	}

	for _, b := range harness.Backends() {
		s := Series{Label: string(b)}

		for _, name := range chart.Categories {
			v := 0.0
			if br, ok := or.Backends[b]; ok && br.Checklist[name] {
				v = 1
			}

			s.Values = append(s.Values, v)
		}

		chart.Series = append(chart.Series, s)
	}

	return chart
}

// combinedChart scores each backend per objective on a 0..1 scale: the
// share of checks satisfied, or for performance the fastest total divided
// by the backend's own total at the deciding size.
func combinedChart(rep ComparisonReport) Chart {
	chart := Chart{
		Name:   "combined",
		Title:  "Overall comparison",
		YLabel: "score (1 = best)",
	}

	for _, obj := range harness.Objectives() {
		chart.Categories = append(chart.Categories, string(obj))
	}

	total := decidingTotal(&rep.Performance)

	for _, b := range harness.Backends() {
		s := Series{Label: string(b)}

		for _, obj := range harness.Objectives() {
			if obj == harness.Performance {
				s.Values = append(s.Values, speedScore(total, b))

				continue
			}

			s.Values = append(s.Values, checklistScore(rep.Objective(obj), b))
		}

		chart.Series = append(chart.Series, s)
	}

	return chart
}

func checklistScore(or *ObjectiveReport, b harness.Backend) float64 {
	br, ok := or.Backends[b]
	if !ok || len(br.Checklist) == 0 {
		return 0
	}

	return float64(br.Satisfied) / float64(len(br.Checklist))
}

// decidingTotal returns the total elapsed comparison at the largest size
// both backends measured.
func decidingTotal(or *ObjectiveReport) *Comparison {
	var found *Comparison

	for i, c := range or.Comparisons {
		if c.Metric != TotalMetric || !c.complete() {
			continue
		}

		if found == nil || c.DatasetSize > found.DatasetSize {
			found = &or.Comparisons[i]
		}
	}

	return found
}

func speedScore(c *Comparison, b harness.Backend) float64 {
	if c == nil {
		return 0
	}

	fastest := math.Inf(1)
	for _, v := range c.Values {
		fastest = math.Min(fastest, *v)
	}

	own := *c.Values[b]
	if own <= 0 {
		return 1
	}

	return fastest / own
}

func (c Comparison) complete() bool {
	for _, b := range harness.Backends() {
		if c.Values[b] == nil {
			return false
		}
	}

	return true
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
