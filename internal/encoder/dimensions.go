package encoder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"pl2tfr/pkg/contract"
)

// Dimensions: 图片头探测结果。
type Dimensions struct {
	Width  int
	Height int
	// Format: 解码器注册名（png/jpeg/gif/bmp/tiff/webp）。
	Format string
}

// ReadDimensions 仅解析图片头得到宽高，不做完整解码。
func ReadDimensions(data []byte) (Dimensions, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, fmt.Errorf("%w: %w", contract.ErrImageDecode, err)
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// FormatTag 按 image_path 的小写后缀给出格式标记：.png → png，其余 → jpg。
func FormatTag(imagePath string) string {
	if strings.HasSuffix(strings.ToLower(imagePath), ".png") {
		return "png"
	}
	return "jpg"
}

// tagMatches 判断探测格式与后缀标记是否一致。
func tagMatches(tag, format string) bool {
	switch tag {
	case "png":
		return format == "png"
	default:
		return format == "jpeg"
	}
}
