package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/cmeheat/internal/sim"
)

// Point is one vertex of a series.
type Point struct{ X, Y float64 }

type Series struct {
	Label  string
	Points []Point
}

var palette = []string{"#00ff9c", "#4fc3f7", "#ffd54f", "#f06292", "#ba68c8", "#ff8a65", "#aed581", "#90a4ae"}

// ChargeStatesSVG plots every charge state fraction of one element against
// sampled height. It returns "" when fewer than two samples carry the element.
func ChargeStatesSVG(history sim.History, symbol string, width, height int) string {
	var heights []float64
	var fractions [][]float64
	for _, s := range history {
		cs, ok := s.ChargeStates[symbol]
		if !ok {
			continue
		}
		heights = append(heights, s.Plasma.Height)
		fractions = append(fractions, cs)
	}
	if len(heights) < 2 {
		return ""
	}

	series := make([]Series, len(fractions[0]))
	for q := range series {
		series[q].Label = fmt.Sprintf("%s+%d", symbol, q)
		series[q].Points = make([]Point, len(heights))
		for i, h := range heights {
			series[q].Points[i] = Point{X: h, Y: fractions[i][q]}
		}
	}
	return SeriesSVG(series, width, height, [2]float64{0, 1})
}

// SeriesSVG draws each series as a path on a shared x range. yRange fixes
// the vertical axis; a zero range is fitted to the data with padding.
func SeriesSVG(series []Series, width, height int, yRange [2]float64) string {
	first := -1
	for i, s := range series {
		if len(s.Points) >= 2 {
			first = i
			break
		}
	}
	if first < 0 {
		return ""
	}

	// Find bounds
	p0 := series[first].Points[0]
	minX, maxX := p0.X, p0.X
	minY, maxY := p0.Y, p0.Y
	for _, s := range series {
		for _, p := range s.Points {
			minX = min(minX, p.X)
			maxX = max(maxX, p.X)
			minY = min(minY, p.Y)
			maxY = max(maxY, p.Y)
		}
	}

	rangeX := maxX - minX
	if rangeX == 0 {
		rangeX = 1
	}
	if yRange[1] > yRange[0] {
		minY, maxY = yRange[0], yRange[1]
	} else {
		rangeY := maxY - minY
		if rangeY == 0 {
			rangeY = 1
		}
		minY -= rangeY * 0.1
		maxY += rangeY * 0.1
	}
	rangeY := maxY - minY

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	for i, s := range series {
		if len(s.Points) < 2 {
			continue
		}
		color := palette[i%len(palette)]
		sb.WriteString(fmt.Sprintf(`<path fill="none" stroke="%s" stroke-width="1.5" d="M`, color))
		for j, p := range s.Points {
			x := (p.X - minX) / rangeX * float64(width)
			y := float64(height) - (p.Y-minY)/rangeY*float64(height)
			if j == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString(`"/>` + "\n")
		if s.Label != "" {
			sb.WriteString(fmt.Sprintf(`<text x="8" y="%d" fill="%s" font-family="monospace" font-size="11">%s</text>`+"\n",
				16+14*i, color, s.Label))
		}
	}

	sb.WriteString("</svg>")
	return sb.String()
}
