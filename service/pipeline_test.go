package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mokecome/background-removal/config"
)

type stubProvider struct {
	name string
	mask func(img *RasterBuffer) *AlphaMask
	err  error
}

func (s *stubProvider) Name() string                   { return s.name }
func (s *stubProvider) Warmup(_ context.Context) error { return nil }
func (s *stubProvider) AcquireMask(_ context.Context, img *RasterBuffer) (*AlphaMask, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.mask(img), nil
}

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		MaxConcurrent: 2,
		QueueTimeout:  5,
		FastVariant:   "baseline",
	}
}

func failingProvider(name string) *stubProvider {
	return &stubProvider{
		name: name,
		err:  fmt.Errorf("%w: %s is down", ErrProviderUnavailable, name),
	}
}

func centerMaskProvider(name string) *stubProvider {
	return &stubProvider{
		name: name,
		mask: func(img *RasterBuffer) *AlphaMask {
			mask := NewAlphaMask(img.Width, img.Height)
			for y := img.Height / 4; y < img.Height*3/4; y++ {
				for x := img.Width / 4; x < img.Width*3/4; x++ {
					mask.Pix[y*img.Width+x] = 255
				}
			}
			return mask
		},
	}
}

func TestPipelineFallsBackToFastWhenProvidersFail(t *testing.T) {
	providers := map[Tier]MaskProvider{
		TierPrecise:  failingProvider("deep-segmentation"),
		TierBalanced: failingProvider("person-matting"),
	}
	pipeline := NewTierPipeline(testPipelineConfig(), providers)
	img := newSubjectOnBackground(64, 64, 24)

	result, err := pipeline.Process(context.Background(), img, TierDecision{Tier: TierPrecise}, "test.png")

	require.NoError(t, err, "fast tier is the terminal fallback and must not fail")
	assert.Equal(t, TierFast, result.TierUsed)
	assert.Len(t, result.Degradations, 2)
	require.NotNil(t, result.Image)
	assert.Equal(t, 64, result.Image.Width)
	assert.Equal(t, 64, result.Image.Height)
}

func TestPipelineUsesProviderMaskWhenAvailable(t *testing.T) {
	providers := map[Tier]MaskProvider{
		TierBalanced: centerMaskProvider("person-matting"),
	}
	pipeline := NewTierPipeline(testPipelineConfig(), providers)
	img := newSubjectOnBackground(64, 64, 24)

	result, err := pipeline.Process(context.Background(), img, TierDecision{Tier: TierBalanced}, "test.png")

	require.NoError(t, err)
	assert.Equal(t, TierBalanced, result.TierUsed)
	assert.Empty(t, result.Degradations)
}

func TestPipelineDegradesOnMissingPerson(t *testing.T) {
	empty := &stubProvider{
		name: "person-matting",
		mask: func(img *RasterBuffer) *AlphaMask {
			return NewAlphaMask(img.Width, img.Height)
		},
	}
	pipeline := NewTierPipeline(testPipelineConfig(), map[Tier]MaskProvider{TierBalanced: empty})
	img := newSubjectOnBackground(64, 64, 24)

	result, err := pipeline.Process(context.Background(), img, TierDecision{Tier: TierBalanced}, "test.png")

	require.NoError(t, err)
	assert.Equal(t, TierFast, result.TierUsed)
	require.Len(t, result.Degradations, 1)
	assert.Contains(t, result.Degradations[0], "no person detected")
}

func TestPipelineUnconfiguredProvidersDegrade(t *testing.T) {
	pipeline := NewTierPipeline(testPipelineConfig(), nil)
	img := newSubjectOnBackground(64, 64, 24)

	result, err := pipeline.Process(context.Background(), img, TierDecision{Tier: TierPrecise}, "test.png")

	require.NoError(t, err)
	assert.Equal(t, TierFast, result.TierUsed)
	assert.Len(t, result.Degradations, 2)
}

func TestPipelineCompositePreservesColors(t *testing.T) {
	pipeline := NewTierPipeline(testPipelineConfig(), nil)
	img := newSubjectOnBackground(64, 64, 24)
	original := img.Clone()

	result, err := pipeline.Process(context.Background(), img, TierDecision{Tier: TierFast}, "test.png")

	require.NoError(t, err)
	// 原图不被流水线修改，输出与原图不共享内存
	assert.Equal(t, original.Pix, img.Pix)
	center := (32*64 + 32) * 4
	assert.Equal(t, img.Pix[center], result.Image.Pix[center])
	assert.Equal(t, img.Pix[center+1], result.Image.Pix[center+1])
	// 背景角落在合成结果中是透明的
	assert.Equal(t, uint8(0), result.Image.Pix[3])
}

func TestPipelineDecide(t *testing.T) {
	pipeline := NewTierPipeline(testPipelineConfig(), nil)

	manual := pipeline.Decide(newSolidBuffer(32, 32, 10, 10, 10), "precise")
	assert.Equal(t, TierPrecise, manual.Tier)
	assert.False(t, manual.Auto)
	assert.Nil(t, manual.Features)

	auto := pipeline.Decide(newSolidBuffer(32, 32, 10, 10, 10), "")
	assert.True(t, auto.Auto)
	require.NotNil(t, auto.Features)
	assert.Equal(t, TierFast, auto.Tier, "纯色图像复杂度低且无人像")
}

func TestPipelineProbabilityVariant(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.FastVariant = "probability"
	pipeline := NewTierPipeline(cfg, nil)
	img := newSubjectOnBackground(60, 60, 20)

	result, err := pipeline.Process(context.Background(), img, TierDecision{Tier: TierFast}, "test.png")

	require.NoError(t, err)
	assert.Equal(t, TierFast, result.TierUsed)
	require.NotNil(t, result.Image)
}
