package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"survbatch/domain/survival"
	"survbatch/ports"
)

// TextRenderer draws a monospace forest plot of hazard ratios, suitable
// for terminals and logs. It is the built-in stand-in for heavier
// graphical renderers plugged in behind ports.RendererPort.
type TextRenderer struct {
	width int // plot band width in characters
}

// NewTextRenderer creates a renderer with the default plot width
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{width: 40}
}

var _ ports.RendererPort = (*TextRenderer)(nil)

// RenderForest renders one plot per model, or a single merged plot when
// opts.Merged is set. Rows come from the table so that filtering and
// sorting applied upstream carry through to the plot.
func (r *TextRenderer) RenderForest(ctx context.Context, models []*survival.FittedModel, table *survival.ResultTable, opts ports.ForestOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("nothing to render: empty result table")
	}

	var buf bytes.Buffer
	if opts.Merged {
		r.renderTable(&buf, table, opts)
	} else {
		for _, m := range models {
			sub := table.VariableRows(m.Candidate)
			if len(sub) == 0 {
				continue
			}
			part := survival.NewResultTable()
			part.Append(sub...)
			r.renderTable(&buf, part, opts)
			if opts.ShowCaption {
				fmt.Fprintf(&buf, "  n=%d, events=%d, loglik=%.3f\n", m.N, m.NEvents, m.LogLik)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func (r *TextRenderer) renderTable(buf *bytes.Buffer, table *survival.ResultTable, opts ports.ForestOptions) {
	records := table.Records()

	// Scale the band to the widest confidence interval, on the log axis.
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, rec := range records {
		if rec.CILow > 0 && math.Log(rec.CILow) < lo {
			lo = math.Log(rec.CILow)
		}
		if rec.CIHigh > 0 && math.Log(rec.CIHigh) > hi {
			hi = math.Log(rec.CIHigh)
		}
	}
	if math.IsInf(lo, 1) || math.IsInf(hi, -1) || lo == hi {
		lo, hi = -1, 1
	}

	termWidth := 0
	for _, rec := range records {
		if len(rec.Term()) > termWidth {
			termWidth = len(rec.Term())
		}
	}

	header := "HR (CI)"
	if opts.PValueHeader {
		header = "HR (CI)            p"
	}
	fmt.Fprintf(buf, "%-*s  %-*s  %s\n", termWidth, "term", r.width, strings.Repeat("-", r.width), header)

	for _, rec := range records {
		band := r.band(rec, lo, hi)
		line := fmt.Sprintf("%-*s  %s  %.2f (%.2f-%.2f)", termWidth, rec.Term(), band, rec.HR, rec.CILow, rec.CIHigh)
		if opts.PValueHeader {
			line += fmt.Sprintf("  %.4g", rec.PValue)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
}

// band draws one row's interval on a log-scaled character axis, with the
// point estimate marked and HR=1 shown as a reference tick.
func (r *TextRenderer) band(rec survival.CoefficientRecord, lo, hi float64) string {
	cells := make([]byte, r.width)
	for i := range cells {
		cells[i] = ' '
	}
	pos := func(v float64) int {
		if v <= 0 {
			return 0
		}
		p := int(math.Round((math.Log(v) - lo) / (hi - lo) * float64(r.width-1)))
		if p < 0 {
			p = 0
		}
		if p >= r.width {
			p = r.width - 1
		}
		return p
	}
	for i := pos(rec.CILow); i <= pos(rec.CIHigh); i++ {
		cells[i] = '-'
	}
	if one := pos(1); cells[one] == ' ' {
		cells[one] = '|'
	}
	cells[pos(rec.HR)] = '*'
	return string(cells)
}
