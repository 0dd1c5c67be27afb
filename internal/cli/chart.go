package cli

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/cplpilot/internal/model"
)

var (
	historyStyle  = lipgloss.NewStyle().Foreground(ColorBlue)
	estimateStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	bandStyle     = lipgloss.NewStyle().Foreground(ColorTextDim)
)

// chartColumn is one day of the chart: an observed CPL or a forecast
// estimate with its interval.
type chartColumn struct {
	label     string
	value     float64
	lo, hi    float64
	predicted bool
}

// RenderForecastChart plots the CPL history followed by the forecast
// horizon. Observed days render as ●, predicted days as ◆ with the
// uncertainty interval drawn as │. Older days are dropped to fit width.
func RenderForecastChart(history []model.SeriesPoint, fc model.Forecast, width, height int) string {
	var cols []chartColumn
	for _, p := range history {
		cols = append(cols, chartColumn{label: p.Date.Format("01-02"), value: p.CPL, lo: p.CPL, hi: p.CPL})
	}
	for _, p := range fc.FuturePoints() {
		cols = append(cols, chartColumn{
			label: p.Date.Format("01-02"), value: p.Estimate, lo: p.Lower, hi: p.Upper, predicted: true,
		})
	}
	if len(cols) == 0 {
		return ""
	}
	if height < 3 {
		height = 3
	}

	var all []float64
	for _, c := range cols {
		all = append(all, c.value, c.lo, c.hi)
	}
	lo, hi, ok := bounds(all)
	if !ok {
		return ""
	}
	step := chartTickStep(hi - lo)
	floor := math.Floor(lo/step) * step
	ceil := math.Ceil(hi/step) * step
	if ceil == floor {
		ceil = floor + step
	}

	labelW := max(len(FormatCPL(ceil)), len(FormatCPL(floor))) + 1
	fit := (width - labelW - 1) / 2
	if fit < 1 {
		fit = 1
	}
	if len(cols) > fit {
		cols = cols[len(cols)-fit:]
	}

	rowOf := func(v float64) int {
		return int(math.Round((v - floor) / (ceil - floor) * float64(height-1)))
	}

	var b strings.Builder
	for row := height - 1; row >= 0; row-- {
		label := ""
		if row == height-1 {
			label = FormatCPL(ceil)
		} else if row == 0 {
			label = FormatCPL(floor)
		} else if row == (height-1)/2 {
			label = FormatCPL(floor + (ceil-floor)/2)
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("%*s│", labelW, label)))

		for _, c := range cols {
			switch {
			case math.IsNaN(c.value):
				b.WriteString("  ")
			case rowOf(c.value) == row && c.predicted:
				b.WriteString(estimateStyle.Render("◆") + " ")
			case rowOf(c.value) == row:
				b.WriteString(historyStyle.Render("●") + " ")
			case c.predicted && row >= rowOf(c.lo) && row <= rowOf(c.hi):
				b.WriteString(bandStyle.Render("│") + " ")
			default:
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}

	axis := len(cols) * 2
	b.WriteString(dimStyle.Render(strings.Repeat(" ", labelW) + "└" + strings.Repeat("─", axis)))
	b.WriteString("\n")

	// first day, first predicted day and last day
	labels := []byte(strings.Repeat(" ", axis+5))
	next := 0
	place := func(i int) {
		pos := i * 2
		if pos < next {
			return
		}
		copy(labels[pos:], cols[i].label)
		next = pos + len(cols[i].label) + 1
	}
	place(0)
	for i, c := range cols {
		if c.predicted {
			place(i)
			break
		}
	}
	place(len(cols) - 1)
	b.WriteString(dimStyle.Render(strings.Repeat(" ", labelW+1) + strings.TrimRight(string(labels), " ")))
	b.WriteString("\n")
	return b.String()
}

// bounds returns the smallest and largest finite value.
func bounds(values []float64) (lo, hi float64, ok bool) {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}

// chartTickStep computes a nice tick interval targeting ~5 ticks.
func chartTickStep(span float64) float64 {
	if span <= 0 {
		return 1
	}
	rough := span / 5
	exp := math.Floor(math.Log10(rough))
	base := math.Pow(10, exp)
	frac := rough / base

	switch {
	case frac < 1.5:
		return base
	case frac < 3.5:
		return 2 * base
	default:
		return 5 * base
	}
}
