package service

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mokecome/background-removal/config"
)

func providerConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Endpoint:     endpoint,
		InitTimeout:  time.Second,
		InferTimeout: time.Second,
		MaxInputSize: 64,
	}
}

func TestHTTPMaskProviderAcquiresAndResizesMask(t *testing.T) {
	// provider按模型分辨率返回32x32掩码，取回后应放大到源图尺寸
	maskImg := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 8; y < 24; y++ {
		for x := 8; x < 24; x++ {
			maskImg.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, maskImg)
	}))
	defer server.Close()

	p := NewHTTPMaskProvider("test", providerConfig(server.URL))
	img := newSubjectOnBackground(64, 64, 24)

	mask, err := p.AcquireMask(context.Background(), img)

	require.NoError(t, err)
	require.Equal(t, 64, mask.Width)
	require.Equal(t, 64, mask.Height)
	assert.Greater(t, mask.Pix[32*64+32], uint8(200))
	assert.Less(t, mask.Pix[2*64+2], uint8(50))
}

func TestHTTPMaskProviderInferenceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewHTTPMaskProvider("test", providerConfig(server.URL))

	_, err := p.AcquireMask(context.Background(), newSolidBuffer(16, 16, 0, 0, 0))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestHTTPMaskProviderInferenceTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := providerConfig(server.URL)
	cfg.InferTimeout = 20 * time.Millisecond
	p := NewHTTPMaskProvider("test", cfg)

	_, err := p.AcquireMask(context.Background(), newSolidBuffer(16, 16, 0, 0, 0))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentationTimeout)
}

func TestHTTPMaskProviderWarmupIsSingleFlight(t *testing.T) {
	var warmupCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			warmupCalls.Add(1)
			time.Sleep(20 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	p := NewHTTPMaskProvider("test", providerConfig(server.URL))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Warmup(context.Background()))
		}()
	}
	wg.Wait()

	// 并发调用方等待同一次初始化，不会触发重复加载
	assert.Equal(t, int32(1), warmupCalls.Load())

	// 初始化结果进程级缓存，后续调用不再请求
	require.NoError(t, p.Warmup(context.Background()))
	assert.Equal(t, int32(1), warmupCalls.Load())
}

func TestMaskFromImageGrayscales(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	mask := maskFromImage(src, 8, 8)

	require.Len(t, mask.Pix, 64)
	for _, v := range mask.Pix {
		assert.Equal(t, uint8(255), v)
	}
}
