package rectify

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	claheClipLimit = 2.0
	claheTiles     = 8

	bilateralDiameter   = 9
	bilateralSigmaColor = 75.0
	bilateralSigmaSpace = 75.0
)

// Enhance applies local contrast normalization (adaptive histogram
// equalization over the luminance channel) followed by an edge-preserving
// bilateral denoise. The stage is cosmetic and best-effort: when either step
// cannot run (a raster smaller than the tile grid, for example) the input is
// returned untouched.
func Enhance(src *image.RGBA) *image.RGBA {
	equalized, err := equalizeLuminance(src)
	if err != nil {
		return src
	}
	denoised, err := bilateralDenoise(equalized)
	if err != nil {
		return src
	}
	return denoised
}

// equalizeLuminance runs clipped adaptive histogram equalization over the L*
// channel in CIE L*a*b* space, so contrast stretches without shifting hue.
func equalizeLuminance(src *image.RGBA) (*image.RGBA, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < claheTiles || h < claheTiles {
		return nil, fmt.Errorf("raster %dx%d is smaller than the %dx%d tile grid", w, h, claheTiles, claheTiles)
	}

	chromaA := make([]float64, w*h)
	chromaB := make([]float64, w*h)
	bins := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			c := colorful.Color{R: float64(px.R) / 255, G: float64(px.G) / 255, B: float64(px.B) / 255}
			l, ca, cb := c.Lab()
			i := y*w + x
			chromaA[i] = ca
			chromaB[i] = cb
			bins[i] = quantizeLum(l)
		}
	}

	luts := claheLookupTables(bins, w, h)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	tileW := float64(w) / claheTiles
	tileH := float64(h) / claheTiles
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			l := blendTileLUTs(&luts, bins[i], float64(x), float64(y), tileW, tileH)
			c := colorful.Lab(l, chromaA[i], chromaB[i]).Clamped()
			r8, g8, b8 := c.RGB255()
			out.SetRGBA(x, y, color.RGBA{R: r8, G: g8, B: b8, A: src.RGBAAt(b.Min.X+x, b.Min.Y+y).A})
		}
	}
	return out, nil
}

func quantizeLum(l float64) uint8 {
	v := int(l*255 + 0.5)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// claheLookupTables builds one clipped-equalization LUT per tile. Clipping
// caps how hard any single level can be stretched; the clipped mass is
// redistributed evenly so each tile's CDF still spans the full range.
func claheLookupTables(bins []uint8, w, h int) [claheTiles * claheTiles][256]uint8 {
	var luts [claheTiles * claheTiles][256]uint8

	for ty := 0; ty < claheTiles; ty++ {
		y0 := ty * h / claheTiles
		y1 := (ty + 1) * h / claheTiles
		for tx := 0; tx < claheTiles; tx++ {
			x0 := tx * w / claheTiles
			x1 := (tx + 1) * w / claheTiles

			var hist [256]int
			for y := y0; y < y1; y++ {
				row := y * w
				for x := x0; x < x1; x++ {
					hist[bins[row+x]]++
				}
			}
			area := (y1 - y0) * (x1 - x0)

			limit := int(claheClipLimit * float64(area) / 256)
			if limit < 1 {
				limit = 1
			}
			clipped := 0
			for v := 0; v < 256; v++ {
				if hist[v] > limit {
					clipped += hist[v] - limit
					hist[v] = limit
				}
			}
			share := clipped / 256
			rem := clipped % 256
			for v := 0; v < 256; v++ {
				hist[v] += share
				if v < rem {
					hist[v]++
				}
			}

			scale := 255.0 / float64(area)
			cum := 0
			lut := &luts[ty*claheTiles+tx]
			for v := 0; v < 256; v++ {
				cum += hist[v]
				lut[v] = uint8(math.Round(float64(cum) * scale))
			}
		}
	}
	return luts
}

// blendTileLUTs interpolates the four surrounding tile LUTs by the pixel's
// position between tile centers, which removes the block seams plain
// per-tile equalization would leave. Returns luminance in [0, 1].
func blendTileLUTs(luts *[claheTiles * claheTiles][256]uint8, bin uint8, x, y, tileW, tileH float64) float64 {
	gx := x/tileW - 0.5
	gy := y/tileH - 0.5

	tx0 := int(math.Floor(gx))
	ty0 := int(math.Floor(gy))
	fx := gx - float64(tx0)
	fy := gy - float64(ty0)

	tx1 := clampTile(tx0 + 1)
	ty1 := clampTile(ty0 + 1)
	tx0 = clampTile(tx0)
	ty0 = clampTile(ty0)

	v00 := float64(luts[ty0*claheTiles+tx0][bin])
	v10 := float64(luts[ty0*claheTiles+tx1][bin])
	v01 := float64(luts[ty1*claheTiles+tx0][bin])
	v11 := float64(luts[ty1*claheTiles+tx1][bin])

	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fy) / 255
}

func clampTile(t int) int {
	if t < 0 {
		return 0
	}
	if t >= claheTiles {
		return claheTiles - 1
	}
	return t
}

// bilateralDenoise smooths noise without crossing strong edges: each output
// pixel averages its neighborhood weighted by spatial distance and color
// similarity, so dissimilar neighbors contribute nothing.
func bilateralDenoise(src *image.RGBA) (*image.RGBA, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty raster")
	}

	const radius = bilateralDiameter / 2

	// Weight tables: one over window offsets, one over the summed
	// per-channel color difference (0..765).
	var spatial [bilateralDiameter][bilateralDiameter]float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatial[dy+radius][dx+radius] = math.Exp(-d2 / (2 * bilateralSigmaSpace * bilateralSigmaSpace))
		}
	}
	var colorWeight [3*255 + 1]float64
	for d := 0; d < len(colorWeight); d++ {
		colorWeight[d] = math.Exp(-float64(d*d) / (2 * bilateralSigmaColor * bilateralSigmaColor))
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			var sumR, sumG, sumB, sumW float64
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					n := src.RGBAAt(b.Min.X+nx, b.Min.Y+ny)
					diff := absInt(int(n.R)-int(center.R)) + absInt(int(n.G)-int(center.G)) + absInt(int(n.B)-int(center.B))
					wt := spatial[dy+radius][dx+radius] * colorWeight[diff]
					sumR += wt * float64(n.R)
					sumG += wt * float64(n.G)
					sumB += wt * float64(n.B)
					sumW += wt
				}
			}
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(sumR/sumW + 0.5),
				G: uint8(sumG/sumW + 0.5),
				B: uint8(sumB/sumW + 0.5),
				A: center.A,
			})
		}
	}
	return out, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
