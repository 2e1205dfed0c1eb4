package rectify

import (
	"bytes"
	"image"
	"image/png"

	"github.com/anthonynsimon/bild/clone"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// Formats accepted at upload time. Decoding inside Process is permissive
// (anything with a registered decoder); this whitelist is the gate.
var acceptedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
}

// ValidateImage reports whether raw is an image the service accepts for
// upload (JPEG or PNG). Only the header is read, never the full raster.
func ValidateImage(raw []byte) bool {
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	return err == nil && acceptedFormats[format]
}

func decodeRGBA(raw []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return clone.AsRGBA(src), nil
}

func encodePNG(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
