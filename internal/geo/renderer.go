// Package geo draws customer locations over a background map image.
package geo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"os"
	"strings"

	"ecomdash/internal/models"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Extent is the geographic bounding box the background image covers.
type Extent struct {
	MinLng, MaxLng float64
	MinLat, MaxLat float64
}

// BrazilExtent is calibrated against the default background map.
var BrazilExtent = Extent{MinLng: -73.98283055, MaxLng: -33.8, MinLat: -33.75116944, MaxLat: 5.4}

const DefaultImageURL = "https://i.pinimg.com/originals/3a/0c/e1/3a0ce18b3c842748c255bc0aa445ad41.jpg"

// Maroon is the default point color.
var Maroon = color.RGBA{R: 0x80, A: 0xff}

// ImageLoadError means the background image could not be fetched or decoded.
type ImageLoadError struct {
	Source string
	Err    error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("load background image %s: %v", e.Source, e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

// ImageFetcher loads the background raster.
type ImageFetcher interface {
	Fetch(ctx context.Context, source string) (image.Image, error)
}

// HTTPFetcher fetches http(s) sources with a single GET and reads anything
// else from the local filesystem. It never retries.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source string) (image.Image, error) {
	var body io.ReadCloser
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, &ImageLoadError{Source: source, Err: err}
		}
		client := f.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, &ImageLoadError{Source: source, Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, &ImageLoadError{Source: source, Err: fmt.Errorf("unexpected status %s", resp.Status)}
		}
		body = resp.Body
	} else {
		file, err := os.Open(source)
		if err != nil {
			return nil, &ImageLoadError{Source: source, Err: err}
		}
		body = file
	}
	defer body.Close()

	img, _, err := image.Decode(body)
	if err != nil {
		return nil, &ImageLoadError{Source: source, Err: err}
	}
	return img, nil
}

type Options struct {
	Source      string
	Width       int     // canvas width in pixels; height follows the image aspect
	PointRadius float64 // in pixels
	Alpha       float64 // (0, 1]; zero selects the default
	Color       color.RGBA
	Extent      Extent
}

func DefaultOptions() Options {
	return Options{
		Source:      DefaultImageURL,
		Width:       800,
		PointRadius: 1,
		Alpha:       0.3,
		Color:       Maroon,
		Extent:      BrazilExtent,
	}
}

type Renderer struct {
	fetcher ImageFetcher
	opts    Options
	log     *zap.Logger
}

func NewRenderer(fetcher ImageFetcher, opts Options, log *zap.Logger) *Renderer {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.PointRadius <= 0 {
		opts.PointRadius = def.PointRadius
	}
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = def.Alpha
	}
	if opts.Color == (color.RGBA{}) {
		opts.Color = def.Color
	}
	if opts.Extent == (Extent{}) {
		opts.Extent = def.Extent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{fetcher: fetcher, opts: opts, log: log}
}

// Render draws points over the background image scaled to the configured
// width.
func (r *Renderer) Render(ctx context.Context, points []models.GeoPoint) (*image.RGBA, error) {
	bg, err := r.fetcher.Fetch(ctx, r.opts.Source)
	if err != nil {
		r.log.Warn("background image unavailable", zap.String("source", r.opts.Source), zap.Error(err))
		var loadErr *ImageLoadError
		if !errors.As(err, &loadErr) {
			err = &ImageLoadError{Source: r.opts.Source, Err: err}
		}
		return nil, err
	}

	b := bg.Bounds()
	height := r.opts.Width
	if b.Dx() > 0 {
		height = int(math.Round(float64(r.opts.Width) * float64(b.Dy()) / float64(b.Dx())))
	}
	canvas := image.NewRGBA(image.Rect(0, 0, r.opts.Width, height))
	draw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), bg, b, draw.Src, nil)

	r.scatter(canvas, points)
	return canvas, nil
}

// RenderBlank draws the same scatter on a white square canvas, for callers
// that prefer a plot without background over no plot at all.
func (r *Renderer) RenderBlank(points []models.GeoPoint) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, r.opts.Width, r.opts.Width))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	r.scatter(canvas, points)
	return canvas
}

// Project maps a coordinate onto a canvas of the given size. ok is false for
// points outside the extent.
func (e Extent) Project(lng, lat float64, size image.Point) (x, y float64, ok bool) {
	if lng < e.MinLng || lng > e.MaxLng || lat < e.MinLat || lat > e.MaxLat {
		return 0, 0, false
	}
	x = (lng - e.MinLng) / (e.MaxLng - e.MinLng) * float64(size.X)
	y = (e.MaxLat - lat) / (e.MaxLat - e.MinLat) * float64(size.Y)
	return x, y, true
}

func (r *Renderer) scatter(canvas *image.RGBA, points []models.GeoPoint) {
	c := r.opts.Color
	a := uint8(math.Round(r.opts.Alpha * 255))
	src := image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: a})
	size := canvas.Bounds().Size()

	drawn := 0
	for _, p := range points {
		x, y, ok := r.opts.Extent.Project(p.Lng, p.Lat, size)
		if !ok {
			continue
		}
		d := &disc{cx: x, cy: y, r: r.opts.PointRadius}
		draw.DrawMask(canvas, d.Bounds(), src, image.Point{}, d, d.Bounds().Min, draw.Over)
		drawn++
	}
	r.log.Debug("scatter drawn", zap.Int("points", len(points)), zap.Int("drawn", drawn))
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// disc is an alpha mask for a filled circle.
type disc struct {
	cx, cy, r float64
}

func (d *disc) ColorModel() color.Model { return color.AlphaModel }

func (d *disc) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(d.cx-d.r)), int(math.Floor(d.cy-d.r)),
		int(math.Ceil(d.cx+d.r))+1, int(math.Ceil(d.cy+d.r))+1,
	)
}

func (d *disc) At(x, y int) color.Color {
	dx := float64(x) + 0.5 - d.cx
	dy := float64(y) + 0.5 - d.cy
	if dx*dx+dy*dy <= d.r*d.r {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}
