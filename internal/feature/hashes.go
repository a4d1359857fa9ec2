package feature

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// computeAHash is the mean-threshold average hash: shrink to 8x8, set bit i
// where pixel i is at or above the mean (spec §4.5 "aHash").
func computeAHash(gray image.Image) uint64 {
	small := imaging.Resize(gray, 8, 8, imaging.Lanczos)
	pixels := grayPixels(small, 8, 8)

	var sum int
	for _, p := range pixels {
		sum += int(p)
	}
	mean := sum / len(pixels)

	var hash uint64
	for i, p := range pixels {
		if int(p) >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// computeDHash is the gradient hash: shrink to 9x8, set bit i where the
// pixel is darker than its right-hand neighbor (spec §4.5 "dHash").
func computeDHash(gray image.Image) uint64 {
	small := imaging.Resize(gray, 9, 8, imaging.Lanczos)
	pixels := grayPixels(small, 9, 8)
	var hash uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left := pixels[y*9+x]
			right := pixels[y*9+x+1]
			if left < right {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return hash
}

// computePHash is the DCT hash: shrink to 32x32, run a 2-D DCT-II, keep the
// low-frequency 8x8 block (excluding the DC term), set bit i where that
// coefficient is above the block's median (spec §4.5 "pHash"). No example
// in the reference pack provides a DCT implementation (image/jpeg's is
// unexported), so this is a direct, unexported transcription of the
// standard 1-D DCT-II formula applied separably on rows then columns.
func computePHash(gray image.Image) uint64 {
	const (
		side      = 32
		lowFreq   = 8
	)
	small := imaging.Resize(gray, side, side, imaging.Lanczos)
	pixels := grayPixels(small, side, side)
	matrix := make([][]float64, side)
	for y := 0; y < side; y++ {
		matrix[y] = make([]float64, side)
		for x := 0; x < side; x++ {
			matrix[y][x] = float64(pixels[y*side+x])
		}
	}

	dct2D(matrix)

	coeffs := make([]float64, 0, lowFreq*lowFreq-1)
	for y := 0; y < lowFreq; y++ {
		for x := 0; x < lowFreq; x++ {
			if x == 0 && y == 0 {
				continue // skip the DC term, which only reflects overall brightness
			}
			coeffs = append(coeffs, matrix[y][x])
		}
	}

	sorted := append([]float64(nil), coeffs...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]

	var hash uint64
	bit := 0
	for y := 0; y < lowFreq; y++ {
		for x := 0; x < lowFreq; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if matrix[y][x] > median {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return hash
}

// dct2D applies an in-place separable 2-D DCT-II: one 1-D DCT over every
// row, then one 1-D DCT over every column of the result.
func dct2D(m [][]float64) {
	n := len(m)
	for y := 0; y < n; y++ {
		m[y] = dct1D(m[y])
	}
	col := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = m[y][x]
		}
		col = dct1D(col)
		for y := 0; y < n; y++ {
			m[y][x] = col[y]
		}
	}
}

func dct1D(in []float64) []float64 {
	n := len(in)
	out := make([]float64, n)
	factor := math.Pi / float64(n)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos((float64(i)+0.5)*float64(k)*factor)
		}
		if k == 0 {
			sum *= math.Sqrt(1.0 / float64(n))
		} else {
			sum *= math.Sqrt(2.0 / float64(n))
		}
		out[k] = sum
	}
	return out
}

// grayPixels reads a w*h block of an 8-bit grayscale image in row-major
// order.
func grayPixels(img *image.NRGBA, w, h int) []uint8 {
	out := make([]uint8, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			out = append(out, uint8(r>>8))
		}
	}
	return out
}

// hammingDistance64 counts differing bits between two 64-bit hashes.
func hammingDistance64(a, b uint64) int {
	return popcount(a ^ b)
}

func popcount(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
