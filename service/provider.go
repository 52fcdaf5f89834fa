package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	"github.com/mokecome/background-removal/config"
)

// MaskProvider 外部分割模型的边界：发送图像，取回单通道置信度掩码。
// 除了"可能失败"之外不对provider的延迟和可用性做任何假设。
type MaskProvider interface {
	Name() string
	Warmup(ctx context.Context) error
	AcquireMask(ctx context.Context, img *RasterBuffer) (*AlphaMask, error)
}

// HTTPMaskProvider 通过HTTP推理服务获取掩码：POST一张PNG，
// 响应是灰度PNG掩码（分辨率可能是模型输入尺寸，取回后再放大）
type HTTPMaskProvider struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client

	// 预热是single-flight的：同一时刻只有一次初始化在进行，
	// 并发调用方等待同一个结果而不是各自触发加载
	flight singleflight.Group
	warmed atomic.Bool
}

func NewHTTPMaskProvider(name string, cfg config.ProviderConfig) *HTTPMaskProvider {
	return &HTTPMaskProvider{
		name:   name,
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (p *HTTPMaskProvider) Name() string {
	return p.name
}

// Warmup 触发模型加载，结果进程级共享
func (p *HTTPMaskProvider) Warmup(ctx context.Context) error {
	if p.warmed.Load() {
		return nil
	}

	_, err, _ := p.flight.Do(p.name, func() (interface{}, error) {
		warmCtx, cancel := context.WithTimeout(ctx, p.cfg.InitTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(warmCtx, http.MethodGet, p.cfg.Endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.name, err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, p.classify(err, "warmup")
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s warmup returned %d", ErrProviderUnavailable, p.name, resp.StatusCode)
		}

		p.warmed.Store(true)
		return nil, nil
	})
	return err
}

// AcquireMask 执行一次推理，单个请求由超时保护
func (p *HTTPMaskProvider) AcquireMask(ctx context.Context, img *RasterBuffer) (*AlphaMask, error) {
	if err := p.Warmup(ctx); err != nil {
		return nil, err
	}

	input := img.Downscale(p.cfg.MaxInputSize)
	payload, err := input.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: encode input: %v", ErrProviderUnavailable, p.name, err)
	}

	inferCtx, cancel := context.WithTimeout(ctx, p.cfg.InferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(inferCtx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, p.name, err)
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.classify(err, "inference")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s inference returned %d", ErrProviderUnavailable, p.name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.classify(err, "read response")
	}

	maskImg, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode mask: %v", ErrProviderUnavailable, p.name, err)
	}

	return maskFromImage(maskImg, img.Width, img.Height), nil
}

func (p *HTTPMaskProvider) classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s", ErrSegmentationTimeout, p.name, op)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrProviderUnavailable, p.name, op, err)
}

// maskFromImage 把provider返回的掩码图转成目标尺寸的AlphaMask
func maskFromImage(src image.Image, width, height int) *AlphaMask {
	gray := imaging.Grayscale(src)
	resized := imaging.Resize(gray, width, height, imaging.Lanczos)

	mask := NewAlphaMask(width, height)
	for y := 0; y < height; y++ {
		row := y * resized.Stride
		for x := 0; x < width; x++ {
			mask.Pix[y*width+x] = resized.Pix[row+x*4]
		}
	}
	return mask
}
