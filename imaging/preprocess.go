package imaging

import (
	"image"
	"image/color"
)

// luminance converts 16-bit RGBA channel values to a perceptual luminance in
// [0,1] using the Rec. 601 weights.
func luminance(r, g, b uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
}

// Grayscale renders img into a new 8-bit grayscale image.
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			gray.SetGray(x, y, color.Gray{Y: uint8(luminance(r, g, b)*255.0 + 0.5)})
		}
	}
	return gray
}

// ResizeNearest scales img to width x height using nearest-neighbour
// sampling. It is used for hash thumbnails and synthetic warmup inputs where
// interpolation quality does not matter.
func ResizeNearest(img image.Image, width, height int) *image.RGBA {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/height
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/width
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}

// StretchContrast remaps the grayscale range of g so the darkest pixel
// becomes 0 and the brightest 255. A flat image is returned unchanged.
func StretchContrast(g *image.Gray) *image.Gray {
	bounds := g.Bounds()
	minVal, maxVal := uint8(255), uint8(0)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := g.GrayAt(x, y).Y
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
	}
	if maxVal <= minVal {
		return g
	}
	span := float64(maxVal - minVal)
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(g.GrayAt(x, y).Y-minVal) / span
			out.SetGray(x, y, color.Gray{Y: uint8(v*255.0 + 0.5)})
		}
	}
	return out
}
