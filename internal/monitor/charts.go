package monitor

import (
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// renderAmplitude draws |H| per subcarrier for every populated slot of w.
func renderAmplitude(out io.Writer, w *grouper.WifiCsi) error {
	bw := w.ChanSpec.Bandwidth()
	n := bw.Nsub()

	xs := make([]string, n)
	for k := range xs {
		xs[k] = strconv.Itoa(bw.SubcarrierIndex(k))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "CSI Amplitude", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "CSI Amplitude", Subtitle: fmt.Sprintf("seq=%d chanspec=%s rssi=%d", w.SeqCnt, w.ChanSpec, w.RSSI)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "subcarrier", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "|H|"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs)

	for core := range w.Frames {
		for ss, csi := range w.Frames[core] {
			if len(csi) != n {
				continue
			}
			data := make([]opts.LineData, n)
			for k, c := range csi {
				data[k] = opts.LineData{Value: cmplx.Abs(c)}
			}
			line.AddSeries(fmt.Sprintf("core %d ss %d", core, ss), data,
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		}
	}
	return line.Render(out)
}

// renderAoA plots the mean angle of each antenna pair, in degrees,
// against the sequence of recent summaries.
func renderAoA(out io.Writer, history []*estimate.Summary) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "CSI Angle of Arrival", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Angle of Arrival", Subtitle: fmt.Sprintf("snapshots=%d", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "snapshot", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "AoA (deg)", Min: -90, Max: 90}),
	)

	for _, pair := range []string{estimate.PairCenterRight, estimate.PairLeftRight} {
		var data []opts.ScatterData
		for i, s := range history {
			for _, a := range s.AoA {
				if a.Pair == pair {
					data = append(data, opts.ScatterData{Value: []interface{}{i, a.Radians * 180 / math.Pi}})
				}
			}
		}
		scatter.AddSeries(pair, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}
	return scatter.Render(out)
}

// renderToF plots the per-core delay of recent summaries in nanoseconds.
func renderToF(out io.Writer, history []*estimate.Summary) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "CSI Time of Flight", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Time of Flight", Subtitle: fmt.Sprintf("snapshots=%d", len(history))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "delay (ns)"}),
	)

	xs := make([]string, len(history))
	for i, s := range history {
		xs[i] = strconv.Itoa(int(s.SeqCnt))
	}
	line.SetXAxis(xs)

	for core := 0; core < grouper.NumCores; core++ {
		data := make([]opts.LineData, len(history))
		seen := false
		for i, s := range history {
			data[i] = opts.LineData{Value: nil}
			for _, d := range s.ToF {
				if d.Core == core {
					data[i] = opts.LineData{Value: d.Delay.Nanoseconds()}
					seen = true
				}
			}
		}
		if seen {
			line.AddSeries(fmt.Sprintf("core %d", core), data)
		}
	}
	return line.Render(out)
}
