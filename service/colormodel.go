package service

import (
	"math"
)

// ColorModel 从带标签的像素样本构建的高斯颜色模型
type ColorModel struct {
	Mean     [3]float64
	Variance [3]float64
}

const (
	trimapBackground uint8 = 0
	trimapForeground uint8 = 1
	trimapUnknown    uint8 = 2

	// 方差下限，防止纯色样本区域除零
	varianceFloor = 4.0
)

// BuildColorModel 对样本逐通道求均值和方差
func BuildColorModel(img *RasterBuffer, indices []int) ColorModel {
	cm := ColorModel{Variance: [3]float64{varianceFloor, varianceFloor, varianceFloor}}
	if len(indices) == 0 {
		return cm
	}

	n := float64(len(indices))
	for _, i := range indices {
		p := i * 4
		cm.Mean[0] += float64(img.Pix[p])
		cm.Mean[1] += float64(img.Pix[p+1])
		cm.Mean[2] += float64(img.Pix[p+2])
	}
	for c := 0; c < 3; c++ {
		cm.Mean[c] /= n
	}

	var variance [3]float64
	for _, i := range indices {
		p := i * 4
		for c := 0; c < 3; c++ {
			d := float64(img.Pix[p+c]) - cm.Mean[c]
			variance[c] += d * d
		}
	}
	for c := 0; c < 3; c++ {
		variance[c] /= n
		if variance[c] < varianceFloor {
			variance[c] = varianceFloor
		}
		cm.Variance[c] = variance[c]
	}
	return cm
}

// LogLikelihood 对角高斯对数似然
func (cm ColorModel) LogLikelihood(r, g, b float64) float64 {
	ll := 0.0
	for c, v := range [3]float64{r, g, b} {
		d := v - cm.Mean[c]
		ll += -0.5*d*d/cm.Variance[c] - 0.5*math.Log(2*math.Pi*cm.Variance[c])
	}
	return ll
}

// ProbabilitySegmenter 基于trimap和高斯颜色模型的概率分割变体，
// 与基线FastSegmenter暴露相同的Segment契约，通过配置启用
type ProbabilitySegmenter struct{}

func NewProbabilitySegmenter() *ProbabilitySegmenter {
	return &ProbabilitySegmenter{}
}

// Segment 先用trimap给边框和中心区域打标签，再用两个高斯颜色模型
// 对未知区域做似然分类，输出软alpha
func (ps *ProbabilitySegmenter) Segment(img *RasterBuffer) *AlphaMask {
	w, h := img.Width, img.Height
	mask := NewAlphaMask(w, h)

	if w < 3 || h < 3 {
		for i := range mask.Pix {
			mask.Pix[i] = 255
		}
		return mask
	}

	trimap := buildTrimap(w, h)

	var fgIdx, bgIdx []int
	for i, label := range trimap {
		switch label {
		case trimapForeground:
			fgIdx = append(fgIdx, i)
		case trimapBackground:
			bgIdx = append(bgIdx, i)
		}
	}

	fgModel := BuildColorModel(img, fgIdx)
	bgModel := BuildColorModel(img, bgIdx)

	for i, label := range trimap {
		switch label {
		case trimapForeground:
			mask.Pix[i] = 255
		case trimapBackground:
			mask.Pix[i] = 0
		default:
			p := i * 4
			r := float64(img.Pix[p])
			g := float64(img.Pix[p+1])
			b := float64(img.Pix[p+2])

			lfg := fgModel.LogLikelihood(r, g, b)
			lbg := bgModel.LogLikelihood(r, g, b)
			// 后验 p(fg) = 1 / (1 + exp(lbg - lfg))
			posterior := 1.0 / (1.0 + math.Exp(lbg-lfg))
			mask.Pix[i] = uint8(posterior*255 + 0.5)
		}
	}
	return mask
}

// buildTrimap 边框带判为背景，中心三分之一判为前景，其余未知
func buildTrimap(w, h int) []uint8 {
	trimap := make([]uint8, w*h)
	for i := range trimap {
		trimap[i] = trimapUnknown
	}

	border := w
	if h < border {
		border = h
	}
	border = border * 3 / 100
	if border < 2 {
		border = 2
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < border || x >= w-border || y < border || y >= h-border {
				trimap[y*w+x] = trimapBackground
			}
		}
	}

	for y := h / 3; y < h*2/3; y++ {
		for x := w / 3; x < w*2/3; x++ {
			trimap[y*w+x] = trimapForeground
		}
	}
	return trimap
}
