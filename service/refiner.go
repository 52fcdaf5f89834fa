package service

import (
	"math"
)

// MaskRefiner 掩码后处理链，对任何来源的原始alpha掩码执行同一套算法：
// 中值滤波 → 形态学开运算 → 边缘自适应羽化 → 小连通域剔除
type MaskRefiner struct {
	jumpThreshold int
	pruneRegions  bool
}

const (
	featherSigmaMin = 0.5
	featherSigmaMax = 2.0

	pruneMinRegionFloor = 50
)

func NewMaskRefiner(jumpThreshold int, pruneRegions bool) *MaskRefiner {
	return &MaskRefiner{
		jumpThreshold: jumpThreshold,
		pruneRegions:  pruneRegions,
	}
}

// RefinerForTier 各档位的精修参数：低档保留更硬的边，精细档羽化最多，
// 小连通域剔除只在均衡和精细档启用
func RefinerForTier(tier Tier) *MaskRefiner {
	switch tier {
	case TierPrecise:
		return NewMaskRefiner(50, true)
	case TierBalanced:
		return NewMaskRefiner(75, true)
	default:
		return NewMaskRefiner(100, false)
	}
}

// Refine 就地精修掩码，各阶段顺序固定，后一阶段依赖前一阶段的输出
func (mr *MaskRefiner) Refine(mask *AlphaMask) {
	mr.medianFilter(mask)
	mr.morphologicalOpen(mask)
	mr.featherEdges(mask)
	if mr.pruneRegions {
		mr.pruneSmallRegions(mask)
	}
}

// medianFilter 3x3中值滤波去除椒盐噪声，只处理内部像素
func (mr *MaskRefiner) medianFilter(mask *AlphaMask) {
	w, h := mask.Width, mask.Height
	if w < 3 || h < 3 {
		return
	}

	src := make([]uint8, len(mask.Pix))
	copy(src, mask.Pix)

	var window [9]uint8
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				row := (y+dy)*w + x
				window[n] = src[row-1]
				window[n+1] = src[row]
				window[n+2] = src[row+1]
				n += 3
			}
			// 9个元素的插入排序
			for i := 1; i < 9; i++ {
				v := window[i]
				j := i - 1
				for j >= 0 && window[j] > v {
					window[j+1] = window[j]
					j--
				}
				window[j+1] = v
			}
			mask.Pix[y*w+x] = window[4]
		}
	}
}

// morphologicalOpen 3x3最小值腐蚀加3x3最大值膨胀，压掉残余噪点
func (mr *MaskRefiner) morphologicalOpen(mask *AlphaMask) {
	w, h := mask.Width, mask.Height

	eroded := make([]uint8, len(mask.Pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			minV := uint8(255)
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					if v := mask.Pix[ny*w+nx]; v < minV {
						minV = v
					}
				}
			}
			eroded[y*w+x] = minV
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			maxV := uint8(0)
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					if v := eroded[ny*w+nx]; v > maxV {
						maxV = v
					}
				}
			}
			mask.Pix[y*w+x] = maxV
		}
	}
}

// featherEdges 边缘自适应羽化：邻域alpha跳变超过阈值的像素
// 用高斯加权平均替换，σ由局部跳变强度映射到[0.5,2.0]
func (mr *MaskRefiner) featherEdges(mask *AlphaMask) {
	w, h := mask.Width, mask.Height
	src := make([]uint8, len(mask.Pix))
	copy(src, mask.Pix)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			center := int(src[i])

			maxJump := 0
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					jump := int(src[ny*w+nx]) - center
					if jump < 0 {
						jump = -jump
					}
					if jump > maxJump {
						maxJump = jump
					}
				}
			}
			if maxJump <= mr.jumpThreshold {
				continue
			}

			sigma := featherSigmaMin + (featherSigmaMax-featherSigmaMin)*float64(maxJump)/255.0
			if sigma > featherSigmaMax {
				sigma = featherSigmaMax
			}
			radius := int(math.Ceil(2 * sigma))
			twoSigmaSq := 2 * sigma * sigma

			// 权重和不小于中心像素自身的权重1，除法永远安全
			var sum, weightSum float64
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
					weight := math.Exp(-float64(dx*dx+dy*dy) / twoSigmaSq)
					sum += weight * float64(src[ny*w+nx])
					weightSum += weight
				}
			}
			mask.Pix[i] = uint8(sum/weightSum + 0.5)
		}
	}
}

// pruneSmallRegions 对alpha>128的区域做4连通泛洪标记，
// 小于 max(50, w*h/1000) 像素的连通域整体清零
func (mr *MaskRefiner) pruneSmallRegions(mask *AlphaMask) {
	w, h := mask.Width, mask.Height
	minSize := w * h / 1000
	if minSize < pruneMinRegionFloor {
		minSize = pruneMinRegionFloor
	}

	visited := make([]bool, len(mask.Pix))
	stack := make([]int, 0, 256)
	component := make([]int, 0, 256)

	for start := range mask.Pix {
		if visited[start] || mask.Pix[start] <= 128 {
			continue
		}

		stack = stack[:0]
		component = component[:0]
		stack = append(stack, start)
		visited[start] = true

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, i)

			x, y := i%w, i/w
			if x > 0 {
				tryVisit(mask, visited, &stack, i-1)
			}
			if x < w-1 {
				tryVisit(mask, visited, &stack, i+1)
			}
			if y > 0 {
				tryVisit(mask, visited, &stack, i-w)
			}
			if y < h-1 {
				tryVisit(mask, visited, &stack, i+w)
			}
		}

		if len(component) < minSize {
			for _, i := range component {
				mask.Pix[i] = 0
			}
		}
	}
}

func tryVisit(mask *AlphaMask, visited []bool, stack *[]int, i int) {
	if !visited[i] && mask.Pix[i] > 128 {
		visited[i] = true
		*stack = append(*stack, i)
	}
}
