package detect

import (
	"fmt"
	"image"
	"image/color"
)

// PixelFormat is the packed layout handed to the inference backend
type PixelFormat string

const (
	FormatRGB24 PixelFormat = "rgb24"
	FormatBGR24 PixelFormat = "bgr24"
)

// ParsePixelFormat validates a pixel format name
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch f := PixelFormat(s); f {
	case FormatRGB24, FormatBGR24:
		return f, nil
	}
	return "", fmt.Errorf("unknown pixel format %q", s)
}

// Image is a packed 24-bit frame ready for inference
type Image struct {
	Width  int
	Height int
	Format PixelFormat
	Pixels []byte
}

// Convert packs a decoded YCbCr frame into 3 bytes per pixel in the given order.
func Convert(src *image.YCbCr, format PixelFormat) Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	px := make([]byte, w*h*3)

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yi := src.YOffset(x, y)
			ci := src.COffset(x, y)
			r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
			if format == FormatBGR24 {
				r, bl = bl, r
			}
			px[i], px[i+1], px[i+2] = r, g, bl
			i += 3
		}
	}

	return Image{Width: w, Height: h, Format: format, Pixels: px}
}
