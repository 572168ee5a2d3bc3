// Package plot draws the daily usage scatter and the fitted regression line
// as a PNG.
package plot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/lox/balancepoint/internal/estimate"
	"github.com/lox/balancepoint/internal/models"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 600

	marginLeft   = 70
	marginRight  = 30
	marginTop    = 40
	marginBottom = 60
	pointRadius  = 3.5
)

var (
	background = color.RGBA{255, 255, 255, 255}
	axisColor  = color.RGBA{60, 60, 60, 255}
	gridColor  = color.RGBA{225, 225, 225, 255}
	fitColor   = color.RGBA{31, 119, 180, 255}
	otherColor = color.RGBA{170, 170, 170, 255}
	lineColor  = color.RGBA{214, 39, 40, 255}
	markColor  = color.RGBA{44, 160, 44, 255}
)

var ErrNoDays = errors.New("plot: no days to draw")

type Options struct {
	Width  int
	Height int
	Title  string
}

// Render draws every day, highlighting the days that took part in the fit,
// with the fitted line across the full x range.
func Render(days []models.DailyObservation, est models.Estimate, p estimate.Params, opts Options) ([]byte, error) {
	if len(days) == 0 {
		return nil, ErrNoDays
	}
	if opts.Width == 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height == 0 {
		opts.Height = DefaultHeight
	}
	if opts.Width <= marginLeft+marginRight || opts.Height <= marginTop+marginBottom {
		return nil, fmt.Errorf("plot: %dx%d is too small", opts.Width, opts.Height)
	}

	xs := make([]float64, len(days))
	ys := make([]float64, len(days))
	for i, d := range days {
		xs[i], ys[i] = p.X(d), d.GasUsageCCF
	}
	xr := span(xs)
	line := func(x float64) float64 { return est.Fit.Intercept + est.Fit.Slope*x }
	yr := span(append(ys, line(xr.min), line(xr.max)))

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	c := &canvas{
		img:  img,
		area: image.Rect(marginLeft, marginTop, opts.Width-marginRight, opts.Height-marginBottom),
		x:    xr.pad(),
		y:    yr.pad(),
	}
	c.drawGrid()
	c.drawAxes(xLabel(p.Regressor), "gas usage (CCF/day)")

	// Baseline usage and the x value where the fitted line meets it.
	c.hline(p.BaselineUsage, markColor)
	if x := balanceX(est, p); c.x.contains(x) {
		c.vline(x, markColor)
	}

	var others, fitted []image.Point
	for i, d := range days {
		pt := c.point(xs[i], ys[i])
		if p.Fits(d) {
			fitted = append(fitted, pt)
		} else {
			others = append(others, pt)
		}
	}
	c.segment(c.x.min, line(c.x.min), c.x.max, line(c.x.max), 2, lineColor)
	c.dots(others, otherColor)
	c.dots(fitted, fitColor)

	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("Balance point %.1f°F  (slope %.4f, intercept %.3f, R² %.3f, n=%d)",
			est.BalancePoint, est.Fit.Slope, est.Fit.Intercept, est.Fit.RSquared, est.Fit.N)
	}
	drawText(img, title, marginLeft, marginTop-15, axisColor)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode plot: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes a rendered plot, replacing any previous one.
func WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func xLabel(r estimate.Regressor) string {
	if r == estimate.RegressorDegreeDays {
		return "degree-days (°F·day)"
	}
	return "mean outdoor temperature (°F)"
}

// balanceX is where the fitted line crosses the baseline usage, in the
// regressor's units.
func balanceX(est models.Estimate, p estimate.Params) float64 {
	if est.Fit.Slope == 0 {
		return math.NaN()
	}
	return (p.BaselineUsage - est.Fit.Intercept) / est.Fit.Slope
}

type interval struct{ min, max float64 }

func span(vs []float64) interval {
	r := interval{math.Inf(1), math.Inf(-1)}
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		r.min = math.Min(r.min, v)
		r.max = math.Max(r.max, v)
	}
	if r.min > r.max {
		return interval{0, 1}
	}
	return r
}

func (r interval) pad() interval {
	d := r.max - r.min
	if d == 0 {
		return interval{r.min - 1, r.max + 1}
	}
	return interval{r.min - d*0.05, r.max + d*0.05}
}

func (r interval) contains(v float64) bool {
	return v >= r.min && v <= r.max
}

type canvas struct {
	img  *image.RGBA
	area image.Rectangle
	x, y interval
}

func (c *canvas) px(x float64) float32 {
	return float32(float64(c.area.Min.X) + (x-c.x.min)/(c.x.max-c.x.min)*float64(c.area.Dx()))
}

func (c *canvas) py(y float64) float32 {
	return float32(float64(c.area.Max.Y) - (y-c.y.min)/(c.y.max-c.y.min)*float64(c.area.Dy()))
}

func (c *canvas) point(x, y float64) image.Point {
	return image.Pt(int(math.Round(float64(c.px(x)))), int(math.Round(float64(c.py(y)))))
}

func (c *canvas) drawGrid() {
	for _, t := range ticks(c.x.min, c.x.max, 8) {
		x := int(c.px(t))
		fillRect(c.img, image.Rect(x, c.area.Min.Y, x+1, c.area.Max.Y), gridColor)
		label := formatTick(t)
		drawText(c.img, label, x-textWidth(label)/2, c.area.Max.Y+18, axisColor)
	}
	for _, t := range ticks(c.y.min, c.y.max, 6) {
		y := int(c.py(t))
		fillRect(c.img, image.Rect(c.area.Min.X, y, c.area.Max.X, y+1), gridColor)
		label := formatTick(t)
		drawText(c.img, label, c.area.Min.X-8-textWidth(label), y+4, axisColor)
	}
}

func (c *canvas) drawAxes(xlabel, ylabel string) {
	fillRect(c.img, image.Rect(c.area.Min.X, c.area.Max.Y, c.area.Max.X, c.area.Max.Y+1), axisColor)
	fillRect(c.img, image.Rect(c.area.Min.X-1, c.area.Min.Y, c.area.Min.X, c.area.Max.Y), axisColor)

	drawText(c.img, xlabel, c.area.Min.X+(c.area.Dx()-textWidth(xlabel))/2, c.area.Max.Y+42, axisColor)
	drawText(c.img, ylabel, 8, c.area.Min.Y-2, axisColor)
}

func (c *canvas) hline(y float64, col color.Color) {
	if !c.y.contains(y) {
		return
	}
	c.segment(c.x.min, y, c.x.max, y, 1, col)
}

func (c *canvas) vline(x float64, col color.Color) {
	c.segment(x, c.y.min, x, c.y.max, 1, col)
}

// segment strokes a line between two data coordinates.
func (c *canvas) segment(x0, y0, x1, y1 float64, width float32, col color.Color) {
	ax, ay := c.px(x0), c.py(y0)
	bx, by := c.px(x1), c.py(y1)
	dx, dy := bx-ax, by-ay
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2

	z := vector.NewRasterizer(c.img.Bounds().Dx(), c.img.Bounds().Dy())
	z.MoveTo(ax+nx, ay+ny)
	z.LineTo(bx+nx, by+ny)
	z.LineTo(bx-nx, by-ny)
	z.LineTo(ax-nx, ay-ny)
	z.ClosePath()
	c.paint(z, col)
}

// dots draws a filled circle at every point in one pass.
func (c *canvas) dots(points []image.Point, col color.Color) {
	if len(points) == 0 {
		return
	}
	const k = 0.5523 // cubic Bézier circle approximation
	r := float32(pointRadius)
	z := vector.NewRasterizer(c.img.Bounds().Dx(), c.img.Bounds().Dy())
	for _, p := range points {
		x, y := float32(p.X), float32(p.Y)
		z.MoveTo(x+r, y)
		z.CubeTo(x+r, y+k*r, x+k*r, y+r, x, y+r)
		z.CubeTo(x-k*r, y+r, x-r, y+k*r, x-r, y)
		z.CubeTo(x-r, y-k*r, x-k*r, y-r, x, y-r)
		z.CubeTo(x+k*r, y-r, x+r, y-k*r, x+r, y)
		z.ClosePath()
	}
	c.paint(z, col)
}

func (c *canvas) paint(z *vector.Rasterizer, col color.Color) {
	z.DrawOp = draw.Over
	z.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
}

func fillRect(img *image.RGBA, r image.Rectangle, col color.Color) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(col), image.Point{}, draw.Over)
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func textWidth(text string) int {
	return font.MeasureString(basicfont.Face7x13, text).Round()
}

// ticks returns round values covering [lo, hi], about n of them.
func ticks(lo, hi float64, n int) []float64 {
	if !(hi > lo) || n < 1 {
		return nil
	}
	raw := (hi - lo) / float64(n)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	step := mag
	for _, m := range []float64{1, 2, 5, 10} {
		step = m * mag
		if step >= raw {
			break
		}
	}

	var out []float64
	for v := math.Ceil(lo/step) * step; v <= hi+step*1e-9; v += step {
		if math.Abs(v) < step*1e-9 {
			v = 0
		}
		out = append(out, v)
	}
	return out
}

func formatTick(v float64) string {
	return humanize.FtoaWithDigits(v, 3)
}
