package live

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

// ErrNotEnoughPoints is returned when a line chart would have fewer than two points
var ErrNotEnoughPoints = errors.New("need at least two readings to draw a chart")

var metricColors = map[poller.Metric]string{
	poller.MetricTemperature: "EF4444",
	poller.MetricHumidity:    "3B82F6",
	poller.MetricBattery:     "10B981",
}

var metricUnits = map[poller.Metric]string{
	poller.MetricTemperature: "°C",
	poller.MetricHumidity:    "%",
	poller.MetricBattery:     "%",
}

// RenderChart draws metric over the readings in s as a PNG line chart
func RenderChart(s poller.Series, metric poller.Metric, w io.Writer) error {
	if len(s) < 2 {
		return ErrNotEnoughPoints
	}

	xs := make([]float64, len(s))
	ys := make([]float64, len(s))
	for i, r := range s {
		xs[i] = float64(r.Ts.Unix())
		ys[i] = metric.Value(r)
	}

	color := metricColors[metric]
	graph := chart.Chart{
		Height: 300,
		Background: chart.Style{
			Padding: chart.Box{
				Top:    30,
				Left:   10,
				Right:  25,
				Bottom: 10,
			},
			FillColor: drawing.ColorFromHex("ffffff"),
		},
		XAxis: chart.XAxis{
			Name:  "Time",
			Range: paddedRange(xs, 1),
			ValueFormatter: func(v interface{}) string {
				vf := v.(float64)
				return time.Unix(int64(vf), 0).Format("15:04:05")
			},
		},
		YAxis: chart.YAxis{
			Name:  fmt.Sprintf("%s (%s)", metric, metricUnits[metric]),
			Range: paddedRange(ys, 1),
			NameStyle: chart.Style{
				TextRotationDegrees: 270,
			},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.1f", v.(float64))
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    string(metric),
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex(color),
					StrokeWidth: 2,
					DotColor:    drawing.ColorFromHex(color),
					DotWidth:    3,
				},
			},
		},
	}

	return graph.Render(chart.PNG, w)
}

// paddedRange spans vs and never has zero width, which go-chart refuses to draw
func paddedRange(vs []float64, pad float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo == 0 {
		lo -= pad
		hi += pad
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}
