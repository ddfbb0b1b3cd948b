package imaging

import (
	"image"
	"math/bits"
)

// DifferenceHash computes a 64-bit perceptual hash: the image is reduced to
// a 9x8 luminance thumbnail and each bit records whether a pixel is brighter
// than its right neighbour. Hashes of near-identical images differ in only a
// few bits, which makes the Hamming distance a cheap visual similarity.
func DifferenceHash(img image.Image) uint64 {
	if img == nil {
		return 0
	}
	thumb := ResizeNearest(img, 9, 8)
	var hash uint64
	var bit uint
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			r1, g1, b1, _ := thumb.At(x, y).RGBA()
			r2, g2, b2, _ := thumb.At(x+1, y).RGBA()
			if luminance(r1, g1, b1) < luminance(r2, g2, b2) {
				hash |= 1 << bit
			}
			bit++
		}
	}
	return hash
}

// HammingDistance counts the differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// HashSimilarity maps the Hamming distance between two hashes to [0,1],
// where 1 means identical.
func HashSimilarity(a, b uint64) float64 {
	return 1 - float64(HammingDistance(a, b))/64.0
}
