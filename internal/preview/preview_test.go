package preview

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func buildSourcePNG(tb testing.TB, width, height int) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func TestResizeScalesToTargetWidth(t *testing.T) {
	src := buildSourcePNG(t, 200, 160)

	out, err := New().Resize(context.Background(), src, 100)
	if err != nil {
		t.Fatalf("Resize returned error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if got := img.Bounds().Dx(); got != 100 {
		t.Fatalf("preview width = %d, want 100", got)
	}
	if got := img.Bounds().Dy(); got != 80 {
		t.Fatalf("preview height = %d, want 80", got)
	}
}

func TestResizeDoesNotUpscale(t *testing.T) {
	src := buildSourcePNG(t, 50, 40)

	out, err := New().Resize(context.Background(), src, 400)
	if err != nil {
		t.Fatalf("Resize returned error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if got := img.Bounds().Dx(); got != 50 {
		t.Fatalf("preview width = %d, want 50", got)
	}
}

func TestResizeRejectsBadInput(t *testing.T) {
	if _, err := New().Resize(context.Background(), []byte("not an image"), 100); err == nil {
		t.Fatal("expected error for undecodable input")
	}

	src := buildSourcePNG(t, 20, 20)
	if _, err := New().Resize(context.Background(), src, 0); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestResizeHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := buildSourcePNG(t, 20, 20)
	if _, err := New().Resize(ctx, src, 10); err == nil {
		t.Fatal("expected context error")
	}
}
