package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastSegmenterOutputShape(t *testing.T) {
	images := []*RasterBuffer{
		newSubjectOnBackground(64, 64, 24),
		newCheckerboard(40, 30, 5, 0, 0, 0, 255, 255, 255),
		newSolidBuffer(3, 3, 100, 100, 100),
	}

	seg := NewFastSegmenter()
	for _, img := range images {
		mask := seg.Segment(img)
		require.Equal(t, img.Width, mask.Width)
		require.Equal(t, img.Height, mask.Height)
		require.Len(t, mask.Pix, img.Width*img.Height)
	}
}

func TestFastSegmenterSubjectOnUniformBackground(t *testing.T) {
	img := newSubjectOnBackground(64, 64, 24)

	mask := NewFastSegmenter().Segment(img)

	// 四角是背景色，必须被判为背景
	assert.Equal(t, uint8(0), mask.Pix[0])
	assert.Equal(t, uint8(0), mask.Pix[63])
	assert.Equal(t, uint8(0), mask.Pix[63*64])
	assert.Equal(t, uint8(0), mask.Pix[64*64-1])

	// 主体中心远离所有边缘，alpha应保持完全不透明
	center := 32*64 + 32
	assert.Equal(t, uint8(255), mask.Pix[center])
}

func TestFastSegmenterUniformImageIsAllBackground(t *testing.T) {
	img := newSolidBuffer(48, 48, 40, 90, 200)

	mask := NewFastSegmenter().Segment(img)

	for _, v := range mask.Pix {
		assert.Equal(t, uint8(0), v)
	}
}

func TestFastSegmenterTinyImage(t *testing.T) {
	// 小于3x3的图像没有内部像素可做Sobel，整图视为前景
	img := newSolidBuffer(2, 2, 10, 20, 30)

	mask := NewFastSegmenter().Segment(img)

	for _, v := range mask.Pix {
		assert.Equal(t, uint8(255), v)
	}
}

func TestProbabilitySegmenterContract(t *testing.T) {
	img := newSubjectOnBackground(60, 60, 20)

	mask := NewProbabilitySegmenter().Segment(img)

	require.Equal(t, img.Width, mask.Width)
	require.Equal(t, img.Height, mask.Height)

	// trimap：边框带是背景，中心核是前景
	assert.Equal(t, uint8(0), mask.Pix[0])
	assert.Equal(t, uint8(255), mask.Pix[30*60+30])
}

func TestProbabilitySegmenterSeparatesColors(t *testing.T) {
	img := newSubjectOnBackground(60, 60, 30)

	mask := NewProbabilitySegmenter().Segment(img)

	// 未知区域内：主体颜色的像素前景概率应远高于背景颜色的像素
	subjectIdx := 17*60 + 17 // 主体内部但在中心核之外
	bgIdx := 10*60 + 30      // 背景区域但在边框带之外
	assert.Greater(t, mask.Pix[subjectIdx], uint8(200))
	assert.Less(t, mask.Pix[bgIdx], uint8(50))
}
