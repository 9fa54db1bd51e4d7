package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const maxImagePixels = 40_000_000

// ValidateImage checks that data is a decodable JPEG, PNG, GIF or WebP image
// of sane dimensions and returns its MIME type. Pixels are not decoded.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: empty dimensions", ErrInvalidImage)
	}
	if cfg.Width*cfg.Height > maxImagePixels {
		return "", fmt.Errorf("%w: image is %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	return "image/" + format, nil
}
