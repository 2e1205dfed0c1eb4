package rectify

import (
	"image"
	"image/color"
	"testing"
)

func TestEnhanceTinyBufferFallsBackToInput(t *testing.T) {
	for _, dims := range [][2]int{{1, 1}, {4, 4}, {100, 4}, {4, 100}} {
		src := buildGradientRGBA(dims[0], dims[1])
		if got := Enhance(src); got != src {
			t.Fatalf("%dx%d: expected the untouched input buffer back", dims[0], dims[1])
		}
	}
}

func TestEnhancePreservesDimensionsAndAlpha(t *testing.T) {
	src := buildGradientRGBA(64, 48)

	out := Enhance(src)
	if out == src {
		t.Fatal("expected enhancement to run, got the input buffer back")
	}
	if got := out.Bounds(); got.Dx() != 64 || got.Dy() != 48 {
		t.Fatalf("output dimensions = %dx%d, want 64x48", got.Dx(), got.Dy())
	}

	changed := 0
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			px := out.RGBAAt(x, y)
			if px.A != 255 {
				t.Fatalf("pixel (%d, %d) alpha = %d, want 255", x, y, px.A)
			}
			if px != src.RGBAAt(x, y) {
				changed++
			}
		}
	}
	if changed == 0 {
		t.Fatal("enhancement left every pixel untouched")
	}
}

func TestEnhanceStretchesLowContrast(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			v := uint8(100 + (x+y)%40)
			src.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out := Enhance(src)
	if out == src {
		t.Fatal("expected enhancement to run, got the input buffer back")
	}

	minV, maxV := 255, 0
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			v := int(out.RGBAAt(x, y).R)
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}

	inSpread := 39
	if got := maxV - minV; got < inSpread*3/2 {
		t.Fatalf("output spread = %d, want at least %d (input spread %d)", got, inSpread*3/2, inSpread)
	}
}

func TestBilateralDenoisePreservesHardEdge(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(0)
			if x >= 16 {
				v = 255
			}
			src.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out, err := bilateralDenoise(src)
	if err != nil {
		t.Fatalf("bilateral denoise: %v", err)
	}

	if got := out.RGBAAt(8, 16); got != (color.RGBA{0, 0, 0, 255}) {
		t.Fatalf("dark side pixel = %v, want pure black", got)
	}
	if got := out.RGBAAt(24, 16); got != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("bright side pixel = %v, want pure white", got)
	}
	if got := out.RGBAAt(15, 16); got.R > 5 {
		t.Fatalf("edge pixel bled across the boundary: %v", got)
	}
}

func TestBilateralDenoiseSmoothsLowAmplitudeNoise(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(118)
			if (x+y)%2 == 0 {
				v = 138
			}
			src.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out, err := bilateralDenoise(src)
	if err != nil {
		t.Fatalf("bilateral denoise: %v", err)
	}

	for y := 4; y < 28; y++ {
		for x := 4; x < 28; x++ {
			v := int(out.RGBAAt(x, y).R)
			if v < 122 || v > 134 {
				t.Fatalf("pixel (%d, %d) = %d, want the +-10 noise flattened toward 128", x, y, v)
			}
		}
	}
}
