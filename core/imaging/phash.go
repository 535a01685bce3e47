package imaging

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"math/bits"
	"sort"
	"strconv"

	"golang.org/x/image/draw"
)

// 感知哈希参数：32×32灰度图做DCT，取左上8×8低频块
const (
	hashInputSize = 32
	hashBlockSize = 8

	// NearDuplicateThreshold 低于该汉明距离的两张封面视为近重复
	NearDuplicateThreshold = 10
)

// PerceptualHash computes a 64-bit DCT hash of the image. Identical input
// yields identical hashes; re-encoding at a different JPEG quality moves the
// hash only a few bits, while unrelated images differ widely.
func PerceptualHash(img image.Image) uint64 {
	gray := grayscale32(img)
	coeffs := dct2d(gray)

	// 左上8×8块排除DC后的63个系数取中位数作为阈值
	block := make([]float64, 0, hashBlockSize*hashBlockSize-1)
	for u := 0; u < hashBlockSize; u++ {
		for v := 0; v < hashBlockSize; v++ {
			if u == 0 && v == 0 {
				continue
			}
			block = append(block, coeffs[u][v])
		}
	}
	median := medianOf(block)

	var hash uint64
	for u := 0; u < hashBlockSize; u++ {
		for v := 0; v < hashBlockSize; v++ {
			idx := u*hashBlockSize + v
			if idx == 0 {
				continue // DC位恒为0
			}
			if coeffs[u][v] > median {
				hash |= 1 << (63 - idx)
			}
		}
	}
	return hash
}

// HashBytes decodes raw image bytes and hashes them.
func HashBytes(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image for hashing: %w", err)
	}
	return PerceptualHash(img), nil
}

// HashHex renders a hash as 16 lowercase hex characters.
func HashHex(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// ParseHash parses the 16-character hex form produced by HashHex.
func ParseHash(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("invalid hash length %d", len(s))
	}
	hash, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return hash, nil
}

// HammingDistance counts differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// NearDuplicate reports whether two hashes are close enough to be the same
// cover re-rendered.
func NearDuplicate(a, b uint64) bool {
	return HammingDistance(a, b) <= NearDuplicateThreshold
}

// grayscale32 scales the image to 32×32 and reduces it to luminance values.
func grayscale32(img image.Image) [][]float64 {
	small := image.NewRGBA(image.Rect(0, 0, hashInputSize, hashInputSize))
	draw.CatmullRom.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	gray := make([][]float64, hashInputSize)
	for y := 0; y < hashInputSize; y++ {
		gray[y] = make([]float64, hashInputSize)
		for x := 0; x < hashInputSize; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			// 16位色值折算到0..255亮度
			gray[y][x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
		}
	}
	return gray
}

// dct2d computes a separable 2D DCT-II: rows first, then columns.
func dct2d(input [][]float64) [][]float64 {
	n := len(input)

	rows := make([][]float64, n)
	for y := 0; y < n; y++ {
		rows[y] = dct1d(input[y])
	}

	out := make([][]float64, n)
	for u := 0; u < n; u++ {
		out[u] = make([]float64, n)
	}
	col := make([]float64, n)
	for v := 0; v < n; v++ {
		for y := 0; y < n; y++ {
			col[y] = rows[y][v]
		}
		transformed := dct1d(col)
		for u := 0; u < n; u++ {
			out[u][v] = transformed[u]
		}
	}
	return out
}

// dct1d computes the DCT-II of one vector.
func dct1d(input []float64) []float64 {
	n := len(input)
	out := make([]float64, n)
	for u := 0; u < n; u++ {
		var sum float64
		for x := 0; x < n; x++ {
			sum += input[x] * math.Cos(math.Pi*float64(u)*(2*float64(x)+1)/(2*float64(n)))
		}
		out[u] = sum
	}
	return out
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
