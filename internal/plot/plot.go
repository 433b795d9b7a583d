// Package plot renders simulation snapshots as PNG line charts.
package plot

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vk/cellpop/pkg/sim"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	ErrNotEnoughData = errors.New("not enough data to plot")
	ErrUnknownSeries = errors.New("unknown series")
)

// Line is one named series.
type Line struct {
	Name string
	X, Y []float64
}

var palette = []drawing.Color{
	chart.ColorBlue,
	chart.ColorRed,
	chart.ColorGreen,
	{R: 255, G: 165, B: 0, A: 255},
	chart.ColorCyan,
	{R: 128, G: 0, B: 128, A: 255},
}

// Render draws the lines into one chart and writes it as PNG.
func Render(w io.Writer, title string, lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: no series", ErrNotEnoughData)
	}
	series := make([]chart.Series, len(lines))
	for i, l := range lines {
		if len(l.X) < 2 || len(l.X) != len(l.Y) {
			return fmt.Errorf("%w: series %s has %d points", ErrNotEnoughData, l.Name, len(l.X))
		}
		series[i] = chart.ContinuousSeries{
			Name:    l.Name,
			XValues: l.X,
			YValues: l.Y,
			Style:   chart.Style{StrokeColor: palette[i%len(palette)], StrokeWidth: 2.0},
		}
	}

	graph := chart.Chart{
		Title:  title,
		Width:  1024,
		Height: 512,
		Background: chart.Style{
			Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:  "time",
			Style: chart.Style{FontSize: 10.0},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%g", v.(float64))
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: 10.0},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// WriteFile renders the lines into a PNG file at path.
func WriteFile(path, title string, lines []Line) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Render(f, title, lines)
}

func times(snaps []sim.Snapshot) []float64 {
	xs := make([]float64, len(snaps))
	for i, s := range snaps {
		xs[i] = s.Time
	}
	return xs
}

// Populations returns one line per non-unique agent type with its
// population size over time.
func Populations(prog *sim.Program, snaps []sim.Snapshot) []Line {
	xs := times(snaps)
	var out []Line
	for a, at := range prog.Agents {
		if at.Unique {
			continue
		}
		ys := make([]float64, len(snaps))
		for i, s := range snaps {
			ys[i] = float64(s.Populations[a])
		}
		out = append(out, Line{Name: at.Name, X: xs, Y: ys})
	}
	return out
}

// Means returns the mean value of the given properties of one agent type
// over time. Without properties, every property is plotted.
func Means(prog *sim.Program, snaps []sim.Snapshot, agent string, props ...string) ([]Line, error) {
	a, ok := prog.AgentIndex(agent)
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", ErrUnknownSeries, agent)
	}
	at := prog.Agents[a]
	if len(props) == 0 {
		props = at.Properties
	}
	xs := times(snaps)
	out := make([]Line, 0, len(props))
	for _, p := range props {
		idx := -1
		for i, name := range at.Properties {
			if name == p {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownSeries, agent, p)
		}
		ys := make([]float64, len(snaps))
		for i, s := range snaps {
			ys[i] = s.Means[a][idx]
		}
		out = append(out, Line{Name: agent + "." + p, X: xs, Y: ys})
	}
	return out, nil
}
