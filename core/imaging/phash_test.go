package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invertImage flips every channel; the inverse negates every AC coefficient
// of the DCT, so the two hashes disagree on nearly all 63 comparison bits.
func invertImage(src *image.RGBA) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			out.Set(x, y, color.RGBA{
				R: uint8(255 - r>>8),
				G: uint8(255 - g>>8),
				B: uint8(255 - b>>8),
				A: 255,
			})
		}
	}
	return out
}

// --- PerceptualHash ---

func TestPerceptualHashDeterministic(t *testing.T) {
	img := testImage(256, 256)
	assert.Equal(t, PerceptualHash(img), PerceptualHash(img))

	data := encodePNG(t, img)
	a, err := HashBytes(data)
	require.NoError(t, err)
	b, err := HashBytes(data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPerceptualHashSurvivesReencoding(t *testing.T) {
	// 同一画面以不同 JPEG 质量重编码，低频结构不变，哈希应近似
	img := testImage(256, 256)

	high, err := HashBytes(encodeJPEG(t, img, 90))
	require.NoError(t, err)
	low, err := HashBytes(encodeJPEG(t, img, 35))
	require.NoError(t, err)

	assert.LessOrEqual(t, HammingDistance(high, low), NearDuplicateThreshold)
	assert.True(t, NearDuplicate(high, low))
}

func TestPerceptualHashSeparatesDistinctImages(t *testing.T) {
	img := testImage(256, 256)

	a := PerceptualHash(img)
	b := PerceptualHash(invertImage(img))

	assert.GreaterOrEqual(t, HammingDistance(a, b), 25)
	assert.False(t, NearDuplicate(a, b))
}

func TestPerceptualHashDCBitAlwaysZero(t *testing.T) {
	for _, img := range []image.Image{
		testImage(256, 256),
		noiseImage(128, 128),
		image.NewRGBA(image.Rect(0, 0, 64, 64)),
	} {
		hash := PerceptualHash(img)
		assert.Zero(t, hash>>63)
	}
}

func TestHashBytesRejectsGarbage(t *testing.T) {
	_, err := HashBytes([]byte("definitely not an image"))
	require.Error(t, err)
}

// --- HashHex / ParseHash ---

func TestHashHexRoundTrip(t *testing.T) {
	for _, hash := range []uint64{0, 1, 0x00ABCDEF12345678, 1 << 62} {
		s := HashHex(hash)
		assert.Len(t, s, 16)

		parsed, err := ParseHash(s)
		require.NoError(t, err)
		assert.Equal(t, hash, parsed)
	}
}

func TestParseHashRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "abc", "00abcdef1234567", "00abcdef123456789", "zzabcdef12345678"} {
		_, err := ParseHash(s)
		assert.Error(t, err, "input %q", s)
	}
}

// --- HammingDistance / NearDuplicate ---

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(0xDEADBEEF, 0xDEADBEEF))
	assert.Equal(t, 64, HammingDistance(0, ^uint64(0)))
	assert.Equal(t, 1, HammingDistance(0, 1))
	assert.Equal(t, 3, HammingDistance(0b1010, 0b0001))
}

func TestNearDuplicateBoundary(t *testing.T) {
	var base uint64

	atThreshold := base ^ (1<<10 - 1) // 10 bits apart
	assert.True(t, NearDuplicate(base, atThreshold))

	overThreshold := base ^ (1<<11 - 1) // 11 bits apart
	assert.False(t, NearDuplicate(base, overThreshold))
}
