package rectify

import (
	"image"
	"image/color"
	"math"
)

// Resample projects the source quadrilateral onto an upright rectangle of
// ceil(Width) x ceil(Height) pixels. Each destination pixel is mapped back
// into source space through the inverse homography and sampled bilinearly.
// Destinations landing outside the source raster are filled with opaque
// black, so the output canvas is always fully populated.
func Resample(src *image.RGBA, g Geometry) *image.RGBA {
	dstW := int(math.Ceil(g.Width))
	dstH := int(math.Ceil(g.Height))
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			sx, sy := g.Inverse.Apply(float64(x), float64(y))
			out.SetRGBA(x, y, bilinearSample(src, sx, sy))
		}
	}
	return out
}

func bilinearSample(src *image.RGBA, x, y float64) color.RGBA {
	b := src.Bounds()
	if x < float64(b.Min.X) || y < float64(b.Min.Y) || x > float64(b.Max.X-1) || y > float64(b.Max.Y-1) {
		return color.RGBA{0, 0, 0, 255}
	}
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= b.Max.X {
		x1 = b.Max.X - 1
	}
	if y1 >= b.Max.Y {
		y1 = b.Max.Y - 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	c00 := src.RGBAAt(x0, y0)
	c10 := src.RGBAAt(x1, y0)
	c01 := src.RGBAAt(x0, y1)
	c11 := src.RGBAAt(x1, y1)

	r := lerp(lerp(float64(c00.R), float64(c10.R), fx), lerp(float64(c01.R), float64(c11.R), fx), fy)
	g := lerp(lerp(float64(c00.G), float64(c10.G), fx), lerp(float64(c01.G), float64(c11.G), fx), fy)
	bl := lerp(lerp(float64(c00.B), float64(c10.B), fx), lerp(float64(c01.B), float64(c11.B), fx), fy)
	a := lerp(lerp(float64(c00.A), float64(c10.A), fx), lerp(float64(c01.A), float64(c11.A), fx), fy)
	return color.RGBA{uint8(r + 0.5), uint8(g + 0.5), uint8(bl + 0.5), uint8(a + 0.5)}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
