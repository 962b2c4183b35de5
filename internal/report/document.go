// Package report renders an interpreted rate model as markdown, HTML and
// XLSX, and stores fitted models as JSON between CLI steps.
package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"colonrate/internal/interpret"
	"colonrate/internal/predict"
	"colonrate/internal/profiling"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Document gathers everything one report renders. Only Model is required.
type Document struct {
	Title       string
	Model       interpret.Report
	Dispersion  *profiling.DispersionCheck
	Profile     *profiling.Profile
	Predictions []predict.Prediction
}

func (d Document) title() string {
	if d.Title != "" {
		return d.Title
	}
	return "Colon cancer incidence rate model"
}

// Markdown renders the document as GitHub-flavoured markdown
func (d Document) Markdown() []byte {
	var b bytes.Buffer
	m := d.Model

	fmt.Fprintf(&b, "# %s\n\n", d.title())
	fmt.Fprintf(&b, "Run `%s`, method `%s`, %s intervals, training data `%s`.\n\n",
		m.RunID, m.Method, percent(m.Level), m.DataHash.Short())

	b.WriteString("## Baseline\n\n")
	fmt.Fprintf(&b, "Reference cell: %s.\n\n", m.Baseline.Describe())
	fmt.Fprintf(&b, "Baseline rate %s per 100,000 person-years (%s to %s).\n\n",
		num(m.Baseline.RatePer100k, 2), num(m.Baseline.Lower, 2), num(m.Baseline.Upper, 2))

	b.WriteString("## Rate ratios\n\n")
	b.WriteString("| Term | Coefficient | SE | IRR | Interval | p | Direction |\n")
	b.WriteString("| --- | ---: | ---: | ---: | --- | ---: | --- |\n")
	for _, t := range m.Terms {
		direction := string(t.Direction)
		if !t.Interpretable {
			direction = "not directly interpretable"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s to %s | %s | %s |\n",
			escape(t.Label), num(t.Coefficient, 4), num(t.StdErr, 4), num(t.IRR, 3),
			num(t.IRRLower, 3), num(t.IRRUpper, 3), pValue(t.PValue), direction)
	}
	b.WriteString("\n")
	for _, t := range m.Contrasts() {
		fmt.Fprintf(&b, "- %s\n", t.Sentence())
	}
	b.WriteString("\n")

	diag := m.Diagnostics
	b.WriteString("## Fit\n\n")
	b.WriteString("| Statistic | Value |\n| --- | ---: |\n")
	fmt.Fprintf(&b, "| Observations | %d |\n", diag.N)
	fmt.Fprintf(&b, "| Parameters | %d |\n", diag.P)
	fmt.Fprintf(&b, "| Log-likelihood | %s |\n", num(diag.LogLikelihood, 2))
	fmt.Fprintf(&b, "| Deviance | %s |\n", num(diag.Deviance, 2))
	fmt.Fprintf(&b, "| Pearson chi2 | %s |\n", num(diag.PearsonChi2, 2))
	fmt.Fprintf(&b, "| AIC | %s |\n", num(diag.AIC, 2))
	fmt.Fprintf(&b, "| Dispersion | %s |\n", num(diag.Dispersion, 3))
	if d.Dispersion != nil {
		fmt.Fprintf(&b, "| Goodness-of-fit p | %s |\n", pValue(d.Dispersion.PearsonP))
	}
	b.WriteString("\n")
	if d.Dispersion != nil && d.Dispersion.Overdispersed {
		fmt.Fprintf(&b, "> Pearson chi2 / df = %s: the Poisson variance assumption looks too tight; intervals are likely too narrow.\n\n",
			num(d.Dispersion.Ratio, 2))
	}

	if d.Profile != nil {
		d.writeProfile(&b)
	}
	if len(d.Predictions) > 0 {
		b.WriteString("## Predictions\n\n")
		b.WriteString("| Age | Sex | Region | Rate per 100k | Interval | Expected cases |\n")
		b.WriteString("| ---: | --- | --- | ---: | --- | ---: |\n")
		for _, p := range d.Predictions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s to %s | %s |\n",
				num(p.Age, 1), orReference(p.Request.Sex), orReference(p.Request.Region),
				num(p.RatePer100k, 2), num(p.Lower, 2), num(p.Upper, 2), num(p.ExpectedCases, 2))
		}
		b.WriteString("\n")
	}
	return b.Bytes()
}

func (d Document) writeProfile(b *bytes.Buffer) {
	p := d.Profile
	b.WriteString("## Crude rates\n\n")
	fmt.Fprintf(b, "%d cells (%d excluded without exposure), %s cases over %s person-years: %s per 100,000.\n\n",
		p.Rows, p.Excluded, num(p.Cases, 0), num(p.PersonYears, 0), num(p.RatePer100k, 2))
	for _, v := range profiling.Variables {
		levels := p.ByVariable[v]
		if len(levels) == 0 {
			continue
		}
		fmt.Fprintf(b, "| %s | Cells | Cases | Person-years | Rate per 100k | Median cell rate |\n", v)
		b.WriteString("| --- | ---: | ---: | ---: | ---: | ---: |\n")
		for _, l := range levels {
			fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s |\n",
				escape(l.Level), l.Cells, num(l.Cases, 0), num(l.PersonYears, 0),
				num(l.RatePer100k, 2), num(l.Cell.Median, 2))
		}
		b.WriteString("\n")
	}
}

// HTML renders the markdown report as a complete HTML page
func (d Document) HTML() []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: d.title(),
	})
	return markdown.ToHTML(d.Markdown(), p, renderer)
}

func num(x float64, decimals int) string {
	switch {
	case math.IsNaN(x):
		return "n/a"
	case math.IsInf(x, 1):
		return "inf"
	case math.IsInf(x, -1):
		return "-inf"
	}
	return fmt.Sprintf("%.*f", decimals, x)
}

func pValue(p float64) string {
	if !math.IsNaN(p) && p < 1e-4 {
		return "<0.0001"
	}
	return num(p, 4)
}

func percent(level float64) string {
	return fmt.Sprintf("%g%%", level*100)
}

func orReference(level string) string {
	if level == "" {
		return "(reference)"
	}
	return level
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
