package service

// FeatureAnalyzer 负责分析图像特征并推荐抠图档位
type FeatureAnalyzer struct {
	maxAnalyzeEdge int
}

// FeatureVector 一次分析得到的特征向量，所有分量都在[0,1]内
type FeatureVector struct {
	SkinRatio         float64
	ColorVariance     float64
	EdgeDensity       float64
	TextureComplexity float64
	Complexity        float64
	HasHuman          bool
}

const (
	// 分析前最长边缩小到该尺寸，保证后续循环的开销有界
	defaultAnalyzeEdge = 300

	skinRatioThreshold    = 0.05
	edgeGradientThreshold = 30.0

	complexityEdgeWeight    = 0.4
	complexityColorWeight   = 0.4
	complexityTextureWeight = 0.2
)

func NewFeatureAnalyzer() *FeatureAnalyzer {
	return &FeatureAnalyzer{maxAnalyzeEdge: defaultAnalyzeEdge}
}

// Analyze 分析图像特征，对合法图像不会失败
func (fa *FeatureAnalyzer) Analyze(img *RasterBuffer) FeatureVector {
	sample := img.Downscale(fa.maxAnalyzeEdge)

	skinRatio := fa.calculateSkinRatio(sample)
	colorVariance := fa.calculateColorVariance(sample)
	edgeDensity := fa.calculateEdgeDensity(sample)
	texture := fa.calculateTextureComplexity(sample)

	complexity := complexityEdgeWeight*edgeDensity +
		complexityColorWeight*colorVariance +
		complexityTextureWeight*texture
	if complexity > 1 {
		complexity = 1
	}
	if complexity < 0 {
		complexity = 0
	}

	return FeatureVector{
		SkinRatio:         skinRatio,
		ColorVariance:     colorVariance,
		EdgeDensity:       edgeDensity,
		TextureComplexity: texture,
		Complexity:        complexity,
		HasHuman:          skinRatio > skinRatioThreshold,
	}
}

// calculateSkinRatio 统计肤色像素占比，两条互斥规则：常规肤色和浅肤色
func (fa *FeatureAnalyzer) calculateSkinRatio(img *RasterBuffer) float64 {
	total := img.Width * img.Height
	if total == 0 {
		return 0
	}

	count := 0
	for i := 0; i < total; i++ {
		p := i * 4
		r := int(img.Pix[p])
		g := int(img.Pix[p+1])
		b := int(img.Pix[p+2])

		maxC := r
		if g > maxC {
			maxC = g
		}
		if b > maxC {
			maxC = b
		}
		minC := r
		if g < minC {
			minC = g
		}
		if b < minC {
			minC = b
		}

		diffRG := r - g
		if diffRG < 0 {
			diffRG = -diffRG
		}

		chromatic := r > 95 && g > 40 && b > 20 &&
			r > g && r > b && diffRG > 15 && maxC-minC > 15
		pale := r > 220 && g > 210 && b > 170 &&
			diffRG <= 15 && r > b && g > b

		if chromatic || pale {
			count++
		}
	}
	return float64(count) / float64(total)
}

// calculateColorVariance 每通道量化到32宽的桶，统计出现过的(R,G,B)桶数 / 512
func (fa *FeatureAnalyzer) calculateColorVariance(img *RasterBuffer) float64 {
	seen := make(map[uint16]struct{}, 512)
	total := img.Width * img.Height
	for i := 0; i < total; i++ {
		p := i * 4
		key := uint16(img.Pix[p]/32)<<6 | uint16(img.Pix[p+1]/32)<<3 | uint16(img.Pix[p+2]/32)
		seen[key] = struct{}{}
	}
	return float64(len(seen)) / 512.0
}

// calculateEdgeDensity 内部像素中Sobel梯度幅值超过阈值的比例
func (fa *FeatureAnalyzer) calculateEdgeDensity(img *RasterBuffer) float64 {
	w, h := img.Width, img.Height
	if w < 3 || h < 3 {
		return 0
	}

	mag := sobelMagnitude(img.Luminance(), w, h)
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			if mag[y*w+x] > edgeGradientThreshold {
				count++
			}
		}
	}
	interior := (w - 2) * (h - 2)
	return float64(count) / float64(interior)
}

// calculateTextureComplexity 隔8个像素采样一次局部二值模式，
// 统计8位环上相邻位的跳变次数（bit7回绕到bit0），取平均后除以255归一化
func (fa *FeatureAnalyzer) calculateTextureComplexity(img *RasterBuffer) float64 {
	w, h := img.Width, img.Height
	const margin, stride = 8, 8
	if w <= 2*margin || h <= 2*margin {
		return 0
	}

	lum := img.Luminance()
	// 8邻域，从左上角开始顺时针
	offsets := [8]int{-w - 1, -w, -w + 1, 1, w + 1, w, w - 1, -1}

	sum := 0
	samples := 0
	for y := margin; y < h-margin; y += stride {
		for x := margin; x < w-margin; x += stride {
			i := y*w + x
			center := lum[i]

			var pattern uint8
			for bit := 0; bit < 8; bit++ {
				if lum[i+offsets[bit]] >= center {
					pattern |= 1 << bit
				}
			}

			transitions := 0
			for bit := 0; bit < 8; bit++ {
				cur := (pattern >> bit) & 1
				next := (pattern >> ((bit + 1) % 8)) & 1
				if cur != next {
					transitions++
				}
			}

			sum += transitions
			samples++
		}
	}
	if samples == 0 {
		return 0
	}
	return float64(sum) / float64(samples) / 255.0
}

// RecommendMode 根据人像判定和复杂度推荐档位，策略是确定性的
func RecommendMode(hasHuman bool, complexity float64) Tier {
	if hasHuman && complexity > 0.7 {
		return TierPrecise
	}
	if hasHuman || complexity > 0.4 {
		return TierBalanced
	}
	return TierFast
}

// Recommend 推荐档位并给出面向用户的理由
func (fa *FeatureAnalyzer) Recommend(fv FeatureVector) (Tier, string) {
	tier := RecommendMode(fv.HasHuman, fv.Complexity)
	switch tier {
	case TierPrecise:
		return tier, "检测到人像且画面复杂，建议使用精细模式获得最佳边缘效果"
	case TierBalanced:
		if fv.HasHuman {
			return tier, "检测到人像，建议使用均衡模式"
		}
		return tier, "画面较复杂，建议使用均衡模式"
	default:
		return tier, "画面简单，快速模式即可获得良好效果"
	}
}
