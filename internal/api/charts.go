package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/wrc.report/internal/httputil"
	"github.com/banshee-data/wrc.report/internal/units"
	"github.com/banshee-data/wrc.report/internal/wrc/packet"
	"github.com/banshee-data/wrc.report/internal/wrc/sequence"
)

// handleCharts renders speed, rpm and pedal traces from the history buffer
// plus a bar chart of sequence counters.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "history is not enabled")
		return
	}
	u, err := s.speedUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	points := s.history.Points(0)
	x := make([]string, len(points))
	speed := make([]opts.LineData, len(points))
	rpm := make([]opts.LineData, len(points))
	throttle := make([]opts.LineData, len(points))
	brake := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = strconv.FormatUint(p.PacketUID, 10)
		speed[i] = opts.LineData{Value: chartValue(units.ConvertSpeed(float64(p.SpeedMPS), u))}
		rpm[i] = opts.LineData{Value: chartValue(float64(p.RPM))}
		throttle[i] = opts.LineData{Value: p.Throttle}
		brake[i] = opts.LineData{Value: p.Brake}
	}
	subtitle := fmt.Sprintf("samples=%d", len(points))

	speedChart := charts.NewLine()
	speedChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speed", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "packet"}),
		charts.WithYAxisOpts(opts.YAxis{Name: u}),
	)
	speedChart.SetXAxis(x).AddSeries("speed", speed,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	rpmChart := charts.NewLine()
	rpmChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Engine", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rpm"}),
	)
	rpmChart.SetXAxis(x).AddSeries("rpm", rpm,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	pedals := charts.NewLine()
	pedals.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "240px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pedals"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "%", Min: 0, Max: 100}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	pedals.SetXAxis(x).
		AddSeries("throttle", throttle, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("brake", brake, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.AddCharts(speedChart, rpmChart, pedals, s.sequenceChart())

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

// chartValue leaves a gap in the line for non-finite samples.
func chartValue(v float64) any {
	if f := packet.Nullable(v); f != nil {
		return *f
	}
	return nil
}

func (s *Server) sequenceChart() *charts.Bar {
	var c sequence.Counters
	if s.totals != nil {
		c = s.totals.Totals().Sequence
	} else {
		c = s.source.Tracker().Totals()
	}

	x := []string{"in order", "gaps", "lost", "duplicates", "reordered", "resets"}
	y := []opts.BarData{
		{Value: c.InOrder},
		{Value: c.Gaps},
		{Value: c.Dropped},
		{Value: c.Duplicates},
		{Value: c.Reordered},
		{Value: c.Resets},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Sequence", Subtitle: fmt.Sprintf("observed=%d", c.Total())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("datagrams", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}
