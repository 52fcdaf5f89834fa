package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBlobMask 居中方形前景块，可叠加稀疏噪点
func newBlobMask(w, h, blobSize int, withSpeckle bool) *AlphaMask {
	mask := NewAlphaMask(w, h)
	x0 := (w - blobSize) / 2
	y0 := (h - blobSize) / 2
	for y := y0; y < y0+blobSize; y++ {
		for x := x0; x < x0+blobSize; x++ {
			mask.Pix[y*w+x] = 255
		}
	}
	if withSpeckle {
		for i := 13; i < len(mask.Pix); i += 97 {
			mask.Pix[i] = 255 - mask.Pix[i]
		}
	}
	return mask
}

func TestRefinePreservesShapeAndRange(t *testing.T) {
	mask := newBlobMask(80, 80, 30, true)

	RefinerForTier(TierBalanced).Refine(mask)

	require.Len(t, mask.Pix, 80*80)
	// uint8本身保证[0,255]，这里验证精修后前景主体仍然存在
	center := 40*80 + 40
	assert.Greater(t, mask.Pix[center], uint8(128))
}

func TestRefineRemovesSaltAndPepperNoise(t *testing.T) {
	mask := newBlobMask(100, 100, 40, true)

	RefinerForTier(TierFast).Refine(mask)

	// 远离主体的孤立噪点应被中值滤波和开运算清除
	assert.Equal(t, uint8(0), mask.Pix[5*100+5])
	assert.Equal(t, uint8(0), mask.Pix[90*100+90])
}

func TestRefineNearIdempotent(t *testing.T) {
	mask := newBlobMask(100, 100, 30, true)

	refiner := RefinerForTier(TierBalanced)
	refiner.Refine(mask)
	first := mask.Clone()
	refiner.Refine(mask)

	changed := 0
	for i := range mask.Pix {
		if mask.Pix[i] != first.Pix[i] {
			changed++
		}
	}
	// 第二次精修只允许改动一小部分像素（形态学和中值滤波很快到达不动点）
	assert.LessOrEqual(t, changed, len(mask.Pix)/10,
		"second refine changed %d of %d pixels", changed, len(mask.Pix))
}

func TestRefinePrunesSmallIsolatedBlob(t *testing.T) {
	// 100x100时最小连通域阈值 = max(50, 10000/1000) = 50，5x5=25像素的孤立块应被整体清除
	mask := newBlobMask(100, 100, 5, false)

	RefinerForTier(TierPrecise).Refine(mask)

	for i, v := range mask.Pix {
		assert.LessOrEqual(t, v, uint8(128), "pixel %d survived pruning", i)
	}
}

func TestRefineKeepsLargeRegion(t *testing.T) {
	mask := newBlobMask(100, 100, 40, false)

	RefinerForTier(TierPrecise).Refine(mask)

	assert.Greater(t, mask.Coverage(), 0.1)
}

func TestFeatherSoftensHardEdge(t *testing.T) {
	// 左半背景右半前景的硬边，羽化后边界附近应出现中间值
	mask := NewAlphaMask(40, 40)
	for y := 0; y < 40; y++ {
		for x := 20; x < 40; x++ {
			mask.Pix[y*40+x] = 255
		}
	}

	RefinerForTier(TierPrecise).Refine(mask)

	found := false
	for y := 5; y < 35 && !found; y++ {
		for x := 17; x < 23; x++ {
			v := mask.Pix[y*40+x]
			if v > 0 && v < 255 {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected intermediate alpha values at the silhouette boundary")
}

func TestPruneDisabledForFastTier(t *testing.T) {
	// fast档不做小连通域剔除，但8x8的块足够大，能撑过中值滤波和开运算
	mask := newBlobMask(100, 100, 8, false)

	RefinerForTier(TierFast).Refine(mask)

	assert.Greater(t, mask.Coverage(), 0.0)
}
