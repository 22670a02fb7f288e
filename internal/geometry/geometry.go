package geometry

import (
	"fmt"
	"math"

	"pl2tfr/pkg/contract"
)

// 坐标换算约定（与下游训练数据保持逐位一致）：
//
//	xmin      = floor(W * leftPct) + 1
//	boxWidth  = roundHalfEven(W * widthPct) - 1   （< 0 时取 0）
//	ymin      = floor(H * topPct) + 1
//	boxHeight = roundHalfEven(H * heightPct) - 1  （< 0 时取 0）
//	xmax      = xmin + boxWidth
//	ymax      = ymin + boxHeight
//
// 不对上界做裁剪：比例不一致时 xmax/ymax 可能超过 W/H，原样透传。

// PixelBox: 像素单位的框（派生、临时）。
type PixelBox struct {
	XMin   int
	YMin   int
	Width  int
	Height int
}

// XMax 返回右边界（含）。
func (p PixelBox) XMax() int { return p.XMin + p.Width }

// YMax 返回下边界（含）。
func (p PixelBox) YMax() int { return p.YMin + p.Height }

// Fractions: 输出格式使用的比例坐标。
type Fractions struct {
	XMin float64
	XMax float64
	YMin float64
	YMax float64
}

// MapBox 将比例框换算为像素框。宽或高 <= 0 时返回 ErrZeroDimension。
func MapBox(b contract.Box, width, height int) (PixelBox, error) {
	if width <= 0 || height <= 0 {
		return PixelBox{}, fmt.Errorf("%w: %dx%d", contract.ErrZeroDimension, width, height)
	}
	w := float64(width)
	h := float64(height)
	p := PixelBox{
		XMin:   int(math.Floor(w*b.LeftPct)) + 1,
		Width:  int(RoundHalfEven(w*b.WidthPct)) - 1,
		YMin:   int(math.Floor(h*b.TopPct)) + 1,
		Height: int(RoundHalfEven(h*b.HeightPct)) - 1,
	}
	if p.Width < 0 {
		p.Width = 0
	}
	if p.Height < 0 {
		p.Height = 0
	}
	return p, nil
}

// Fractions 将像素框按图片尺寸归一化。调用方保证 width/height > 0（MapBox 已校验）。
func (p PixelBox) Fractions(width, height int) Fractions {
	w := float64(width)
	h := float64(height)
	return Fractions{
		XMin: float64(p.XMin) / w,
		XMax: float64(p.XMax()) / w,
		YMin: float64(p.YMin) / h,
		YMax: float64(p.YMax()) / h,
	}
}

// MapFractions 为 MapBox + Fractions 的组合。
func MapFractions(b contract.Box, width, height int) (Fractions, error) {
	p, err := MapBox(b, width, height)
	if err != nil {
		return Fractions{}, err
	}
	return p.Fractions(width, height), nil
}

// RoundHalfEven 四舍六入五成双（.5 取偶）。
func RoundHalfEven(v float64) float64 { return math.RoundToEven(v) }
