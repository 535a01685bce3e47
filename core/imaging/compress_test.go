package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage draws a high-contrast composition (diagonal gradient + bright
// circle) whose large features survive resizing and re-encoding.
func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y) * 255 / (w + h))
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	cx, cy, r := w/2, h/2, w/4
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
			}
		}
	}
	return img
}

// noiseImage fills every pixel from a fixed-seed PRNG; noise is the least
// compressible input JPEG can face.
func noiseImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

// --- Compress ---

func TestCompressFitsBudget(t *testing.T) {
	data := encodePNG(t, testImage(800, 800))

	out, quality, err := Compress(data, 190000)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 190000)
	assert.GreaterOrEqual(t, quality, minQuality)
	assert.LessOrEqual(t, quality, startQuality)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, CoverSize, decoded.Bounds().Dx())
	assert.Equal(t, CoverSize, decoded.Bounds().Dy())
}

func TestCompressGenerousBudgetKeepsStartQuality(t *testing.T) {
	data := encodePNG(t, testImage(640, 640))

	out, quality, err := Compress(data, 10*1024*1024)
	require.NoError(t, err)
	assert.Equal(t, startQuality, quality)
	assert.NotEmpty(t, out)
}

func TestCompressNoiseStillFitsOrErrors(t *testing.T) {
	// 噪声图不可压缩，质量阶梯必须一路下探仍守住预算
	data := encodePNG(t, noiseImage(640, 640))

	out, quality, err := Compress(data, 190000)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 190000)
	assert.GreaterOrEqual(t, quality, minQuality)
}

func TestCompressOverBudgetAtFloor(t *testing.T) {
	data := encodePNG(t, testImage(640, 640))

	_, _, err := Compress(data, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOversizedImage)
}

func TestCompressUpscalesSmallInput(t *testing.T) {
	data := encodePNG(t, testImage(100, 100))

	out, _, err := Compress(data, 190000)
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, CoverSize, decoded.Bounds().Dx())
	assert.Equal(t, CoverSize, decoded.Bounds().Dy())
}

func TestCompressAcceptsJPEGInput(t *testing.T) {
	data := encodeJPEG(t, testImage(640, 640), 90)

	out, _, err := Compress(data, 190000)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestCompressDeterministic(t *testing.T) {
	data := encodePNG(t, testImage(320, 320))

	a, qa, err := Compress(data, 190000)
	require.NoError(t, err)
	b, qb, err := Compress(data, 190000)
	require.NoError(t, err)

	assert.Equal(t, qa, qb)
	assert.Equal(t, a, b)
}

func TestCompressRejectsGarbage(t *testing.T) {
	_, _, err := Compress([]byte("not an image at all"), 190000)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOversizedImage)
}

// --- EncodeBase64 ---

func TestEncodeBase64RoundTrip(t *testing.T) {
	data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	encoded := EncodeBase64(data)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}
