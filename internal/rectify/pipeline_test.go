package rectify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/unwarphq/unwarp/internal/domain"
)

func buildTestPNG(tb testing.TB, w, h int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, buildGradientRGBA(w, h)); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func TestProcessEndToEnd(t *testing.T) {
	raw := buildTestPNG(t, 1000, 800)
	corners := []domain.CornerPoint{
		{X: 100, Y: 50},
		{X: 900, Y: 60},
		{X: 880, Y: 750},
		{X: 90, Y: 740},
	}

	out, err := Process(context.Background(), raw, corners)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty output bytes")
	}

	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" {
		t.Fatalf("output format = %s, want png", format)
	}
	if got := img.Bounds(); got.Dx() != 801 || got.Dy() != 691 {
		t.Fatalf("output dimensions = %dx%d, want 801x691", got.Dx(), got.Dy())
	}

	// Corners sit well inside the source, so nothing in the output should be
	// background fill.
	for y := 0; y < 691; y += 31 {
		for x := 0; x < 801; x += 37 {
			r, g, b, _ := img.At(x, y).RGBA()
			if r == 0 && g == 0 && b == 0 {
				t.Fatalf("pixel (%d, %d) is background-filled", x, y)
			}
		}
	}
}

func TestProcessClampsOutOfBoundsCorners(t *testing.T) {
	raw := buildTestPNG(t, 200, 160)
	corners := []domain.CornerPoint{
		{X: -100, Y: -100},
		{X: 9999, Y: -100},
		{X: 9999, Y: 9999},
		{X: -100, Y: 9999},
	}

	out, err := Process(context.Background(), raw, corners)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	// Clamped to (0,0)..(199,159), so the output spans the full frame.
	if got := img.Bounds(); got.Dx() != 199 || got.Dy() != 159 {
		t.Fatalf("output dimensions = %dx%d, want 199x159", got.Dx(), got.Dy())
	}
}

func TestProcessRejectsWrongCornerCount(t *testing.T) {
	raw := buildTestPNG(t, 100, 100)

	three := []domain.CornerPoint{{X: 1, Y: 1}, {X: 50, Y: 1}, {X: 50, Y: 50}}
	if _, err := Process(context.Background(), raw, three); !errors.Is(err, ErrInvalidCorners) {
		t.Fatalf("3 corners: expected ErrInvalidCorners, got %v", err)
	}

	five := []domain.CornerPoint{
		{X: 1, Y: 1}, {X: 50, Y: 1}, {X: 50, Y: 50}, {X: 1, Y: 50}, {X: 25, Y: 25},
	}
	if _, err := Process(context.Background(), raw, five); !errors.Is(err, ErrInvalidCorners) {
		t.Fatalf("5 corners: expected ErrInvalidCorners, got %v", err)
	}
}

func TestProcessRejectsNonFiniteCorner(t *testing.T) {
	raw := buildTestPNG(t, 100, 100)
	corners := []domain.CornerPoint{
		{X: math.NaN(), Y: 1},
		{X: 50, Y: 1},
		{X: 50, Y: 50},
		{X: 1, Y: 50},
	}
	if _, err := Process(context.Background(), raw, corners); !errors.Is(err, ErrInvalidCorners) {
		t.Fatalf("expected ErrInvalidCorners, got %v", err)
	}
}

func TestProcessRejectsUndecodableBytes(t *testing.T) {
	corners := []domain.CornerPoint{
		{X: 1, Y: 1}, {X: 50, Y: 1}, {X: 50, Y: 50}, {X: 1, Y: 50},
	}
	if _, err := Process(context.Background(), []byte("definitely not an image"), corners); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestProcessRejectsCoincidentCorners(t *testing.T) {
	raw := buildTestPNG(t, 100, 100)
	corners := []domain.CornerPoint{
		{X: 40, Y: 40}, {X: 40, Y: 40}, {X: 60, Y: 60}, {X: 60, Y: 60},
	}
	if _, err := Process(context.Background(), raw, corners); !errors.Is(err, ErrDegenerateGeometry) {
		t.Fatalf("expected ErrDegenerateGeometry, got %v", err)
	}
}

func TestProcessHonorsCanceledContext(t *testing.T) {
	raw := buildTestPNG(t, 100, 100)
	corners := []domain.CornerPoint{
		{X: 1, Y: 1}, {X: 50, Y: 1}, {X: 50, Y: 50}, {X: 1, Y: 50},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Process(ctx, raw, corners); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestValidateImage(t *testing.T) {
	if !ValidateImage(buildTestPNG(t, 20, 20)) {
		t.Fatal("expected PNG bytes to validate")
	}

	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, buildGradientRGBA(20, 20), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if !ValidateImage(jpegBuf.Bytes()) {
		t.Fatal("expected JPEG bytes to validate")
	}

	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, buildGradientRGBA(20, 20), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	if ValidateImage(gifBuf.Bytes()) {
		t.Fatal("expected GIF bytes to be rejected")
	}

	if ValidateImage([]byte("not an image")) {
		t.Fatal("expected garbage bytes to be rejected")
	}
	if ValidateImage(nil) {
		t.Fatal("expected empty bytes to be rejected")
	}
}

func BenchmarkProcess(b *testing.B) {
	raw := buildTestPNG(b, 1280, 960)
	corners := []domain.CornerPoint{
		{X: 120, Y: 80},
		{X: 1150, Y: 95},
		{X: 1130, Y: 900},
		{X: 110, Y: 885},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Process(context.Background(), raw, corners); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}
