package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png" // 解码生成服务返回的PNG

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 部分模型族输出WebP
)

// ErrOversizedImage marks an image that stays over the byte budget even at
// the quality floor. Shipping an oversized cover would be rejected by the
// platform, so this is a hard failure.
var ErrOversizedImage = errors.New("compressed image exceeds byte budget")

const (
	// CoverSize 封面目标边长（平台要求正方形）
	CoverSize = 640

	startQuality = 80
	qualityStep  = 5
	minQuality   = 5
)

// Compress decodes the image, resizes it to the square cover dimension and
// walks JPEG quality down in fixed steps until the encoded size fits the
// byte budget. Returns the JPEG bytes and the quality that produced them.
func Compress(data []byte, maxBytes int) ([]byte, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := resizeSquare(img, CoverSize)

	var buf bytes.Buffer
	for quality := startQuality; quality >= minQuality; quality -= qualityStep {
		buf.Reset()
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
			return nil, 0, fmt.Errorf("failed to encode JPEG at quality %d: %w", quality, err)
		}
		if buf.Len() <= maxBytes {
			out := make([]byte, buf.Len())
			copy(out, buf.Bytes())
			return out, quality, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %d bytes at quality %d, budget %d", ErrOversizedImage, buf.Len(), minQuality, maxBytes)
}

// EncodeBase64 renders the final JPEG bytes in the form the platform's
// cover upload endpoint expects.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// resizeSquare scales the image onto a size×size canvas with Catmull-Rom
// resampling. Generated covers are already 1:1, so no cropping is done.
func resizeSquare(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
