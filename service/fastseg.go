package service

import (
	"math"
	"sort"
)

// Segmenter 分割器契约：输入图像，输出同尺寸alpha掩码
type Segmenter interface {
	Segment(img *RasterBuffer) *AlphaMask
}

// FastSegmenter 自包含快速分割器：用边框颜色统计加边缘图分离前景背景，
// 不依赖任何外部模型，是降级链的最后一环
type FastSegmenter struct{}

const (
	borderSampleStride = 5
	backgroundColors   = 3

	// 靠近边缘时用更紧的背景判定阈值，避免吃掉主体边缘
	bgDistanceNearEdge = 40.0
	bgDistanceDefault  = 60.0
	nearEdgeRadius     = 2

	falloffDistance     = 3.0
	falloffSearchRadius = 5
	falloffMaxReduction = 50.0

	erodeKeepNeighbors     = 5
	dilateRestoreNeighbors = 6
)

func NewFastSegmenter() *FastSegmenter {
	return &FastSegmenter{}
}

// Segment 生成alpha掩码，对任何不小于3x3的图像都会成功
func (fs *FastSegmenter) Segment(img *RasterBuffer) *AlphaMask {
	w, h := img.Width, img.Height
	mask := NewAlphaMask(w, h)

	if w < 3 || h < 3 {
		for i := range mask.Pix {
			mask.Pix[i] = 255
		}
		return mask
	}

	bgColors := fs.sampleBorderColors(img)

	mag := sobelMagnitude(img.Luminance(), w, h)
	edge := make([]bool, w*h)
	for i, m := range mag {
		edge[i] = m > edgeGradientThreshold
	}
	nearEdge := dilateBool(edge, w, h, nearEdgeRadius)

	// 分类：与任一背景色的RGB距离低于阈值的像素判为背景
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			p := i * 4
			r := float64(img.Pix[p])
			g := float64(img.Pix[p+1])
			b := float64(img.Pix[p+2])

			minDist := math.MaxFloat64
			for _, c := range bgColors {
				dr := r - c[0]
				dg := g - c[1]
				db := b - c[2]
				d := math.Sqrt(dr*dr + dg*dg + db*db)
				if d < minDist {
					minDist = d
				}
			}

			threshold := bgDistanceDefault
			if nearEdge[i] {
				threshold = bgDistanceNearEdge
			}
			if minDist < threshold {
				mask.Pix[i] = 0
			} else {
				mask.Pix[i] = 255
			}
		}
	}

	fs.applyEdgeFalloff(mask, edge)
	fs.removeSpeckle(mask)

	return mask
}

// sampleBorderColors 沿四条边按固定步长采样，量化到16宽的桶后
// 取出现最频繁的3个颜色作为背景色集合
func (fs *FastSegmenter) sampleBorderColors(img *RasterBuffer) [][3]float64 {
	w, h := img.Width, img.Height

	type bucket struct {
		count   int
		r, g, b float64
	}
	buckets := make(map[uint16]*bucket)

	add := func(x, y int) {
		p := (y*w + x) * 4
		key := uint16(img.Pix[p]/16)<<8 | uint16(img.Pix[p+1]/16)<<4 | uint16(img.Pix[p+2]/16)
		bk := buckets[key]
		if bk == nil {
			bk = &bucket{}
			buckets[key] = bk
		}
		bk.count++
		bk.r += float64(img.Pix[p])
		bk.g += float64(img.Pix[p+1])
		bk.b += float64(img.Pix[p+2])
	}

	for x := 0; x < w; x += borderSampleStride {
		add(x, 0)
		add(x, h-1)
	}
	for y := 0; y < h; y += borderSampleStride {
		add(0, y)
		add(w-1, y)
	}

	all := make([]*bucket, 0, len(buckets))
	for _, bk := range buckets {
		all = append(all, bk)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].count > all[j].count })

	n := backgroundColors
	if len(all) < n {
		n = len(all)
	}
	colors := make([][3]float64, 0, n)
	for _, bk := range all[:n] {
		c := float64(bk.count)
		colors = append(colors, [3]float64{bk.r / c, bk.g / c, bk.b / c})
	}
	return colors
}

// applyEdgeFalloff 对靠近边缘的前景像素做线性alpha衰减，产生软边
func (fs *FastSegmenter) applyEdgeFalloff(mask *AlphaMask, edge []bool) {
	w, h := mask.Width, mask.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if mask.Pix[i] == 0 {
				continue
			}

			minDist := math.MaxFloat64
			for dy := -falloffSearchRadius; dy <= falloffSearchRadius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -falloffSearchRadius; dx <= falloffSearchRadius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					if edge[ny*w+nx] {
						d := math.Sqrt(float64(dx*dx + dy*dy))
						if d < minDist {
							minDist = d
						}
					}
				}
			}

			if minDist <= falloffDistance {
				reduction := falloffMaxReduction * (falloffDistance - minDist) / falloffDistance
				v := float64(mask.Pix[i]) - reduction
				if v < 0 {
					v = 0
				}
				mask.Pix[i] = uint8(v)
			}
		}
	}
}

// removeSpeckle 3x3开闭对：先腐蚀掉孤立噪点，再用腐蚀结果做膨胀，
// 被误删的像素恢复腐蚀前的alpha值，避免吃掉细长的主体末端
func (fs *FastSegmenter) removeSpeckle(mask *AlphaMask) {
	w, h := mask.Width, mask.Height
	before := make([]uint8, len(mask.Pix))
	copy(before, mask.Pix)

	// 腐蚀：8邻域中前景数不足5的前景像素清零
	eroded := make([]uint8, len(mask.Pix))
	copy(eroded, mask.Pix)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if before[i] == 0 {
				continue
			}
			if countForegroundNeighbors(before, w, h, x, y) < erodeKeepNeighbors {
				eroded[i] = 0
			}
		}
	}

	// 膨胀：腐蚀结果中8邻域前景数达到6的空洞像素恢复原值
	copy(mask.Pix, eroded)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if eroded[i] != 0 {
				continue
			}
			if countForegroundNeighbors(eroded, w, h, x, y) >= dilateRestoreNeighbors {
				mask.Pix[i] = before[i]
			}
		}
	}
}

func countForegroundNeighbors(pix []uint8, w, h, x, y int) int {
	count := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			if pix[ny*w+nx] > 0 {
				count++
			}
		}
	}
	return count
}

// dilateBool 按切比雪夫半径膨胀布尔图
func dilateBool(src []bool, w, h, radius int) []bool {
	out := make([]bool, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !src[y*w+x] {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					out[ny*w+nx] = true
				}
			}
		}
	}
	return out
}
