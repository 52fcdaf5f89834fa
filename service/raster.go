package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/nfnt/resize"
)

// RasterBuffer 扁平RGBA像素缓冲区，所有像素算法都在它上面做下标运算
type RasterBuffer struct {
	Width  int
	Height int
	Pix    []uint8 // RGBA交错存储，长度 = Width*Height*4
}

// AlphaMask 单通道前景置信度掩码，255=前景
type AlphaMask struct {
	Width  int
	Height int
	Pix    []uint8 // 长度 = Width*Height
}

func NewRasterBuffer(width, height int) *RasterBuffer {
	return &RasterBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

func NewAlphaMask(width, height int) *AlphaMask {
	return &AlphaMask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// FromImage 把解码后的图像拷贝进扁平缓冲区，alpha通道统一置为不透明
func FromImage(img image.Image) *RasterBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			nrgba.Set(x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}

	rb := NewRasterBuffer(w, h)
	for y := 0; y < h; y++ {
		srcRow := y * nrgba.Stride
		dstRow := y * w * 4
		copy(rb.Pix[dstRow:dstRow+w*4], nrgba.Pix[srcRow:srcRow+w*4])
	}
	// 新解码的源图像alpha从完全不透明开始
	for i := 3; i < len(rb.Pix); i += 4 {
		rb.Pix[i] = 255
	}
	return rb
}

// DecodeImage 解码边界：校验大小与类型后解码，只接受JPEG/PNG
func DecodeImage(data []byte, contentType string, maxSize int64) (*RasterBuffer, error) {
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: file size %d exceeds limit %d", ErrDecode, len(data), maxSize)
	}

	ct := strings.ToLower(contentType)
	if ct != "image/jpeg" && ct != "image/jpg" && ct != "image/png" {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrDecode, contentType)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return FromImage(img), nil
}

func (rb *RasterBuffer) Clone() *RasterBuffer {
	out := NewRasterBuffer(rb.Width, rb.Height)
	copy(out.Pix, rb.Pix)
	return out
}

// ToNRGBA 导出为标准库图像（拷贝，不共享内存）
func (rb *RasterBuffer) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, rb.Width, rb.Height))
	for y := 0; y < rb.Height; y++ {
		srcRow := y * rb.Width * 4
		dstRow := y * img.Stride
		copy(img.Pix[dstRow:dstRow+rb.Width*4], rb.Pix[srcRow:srcRow+rb.Width*4])
	}
	return img
}

// Downscale 等比缩小到最长边不超过 maxEdge，已满足时返回自身
func (rb *RasterBuffer) Downscale(maxEdge int) *RasterBuffer {
	longest := rb.Width
	if rb.Height > longest {
		longest = rb.Height
	}
	if longest <= maxEdge {
		return rb
	}

	scale := float64(maxEdge) / float64(longest)
	nw := int(float64(rb.Width) * scale)
	nh := int(float64(rb.Height) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	resized := resize.Resize(uint(nw), uint(nh), rb.ToNRGBA(), resize.Lanczos3)
	return FromImage(resized)
}

// EncodePNG 编码为无损PNG
func (rb *RasterBuffer) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, rb.ToNRGBA()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Luminance 计算亮度通道 0.299R+0.587G+0.114B
func (rb *RasterBuffer) Luminance() []float64 {
	lum := make([]float64, rb.Width*rb.Height)
	for i := 0; i < len(lum); i++ {
		p := i * 4
		lum[i] = 0.299*float64(rb.Pix[p]) + 0.587*float64(rb.Pix[p+1]) + 0.114*float64(rb.Pix[p+2])
	}
	return lum
}

// sobelMagnitude 对亮度图的每个内部像素计算3x3 Sobel梯度幅值，边界为0
func sobelMagnitude(lum []float64, width, height int) []float64 {
	mag := make([]float64, width*height)
	if width < 3 || height < 3 {
		return mag
	}
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			i := y*width + x
			gx := -lum[i-width-1] + lum[i-width+1] +
				-2*lum[i-1] + 2*lum[i+1] +
				-lum[i+width-1] + lum[i+width+1]
			gy := -lum[i-width-1] - 2*lum[i-width] - lum[i-width+1] +
				lum[i+width-1] + 2*lum[i+width] + lum[i+width+1]
			mag[i] = math.Sqrt(gx*gx + gy*gy)
		}
	}
	return mag
}

func (m *AlphaMask) Clone() *AlphaMask {
	out := NewAlphaMask(m.Width, m.Height)
	copy(out.Pix, m.Pix)
	return out
}

// Coverage 前景像素（alpha>128）占比
func (m *AlphaMask) Coverage() float64 {
	if len(m.Pix) == 0 {
		return 0
	}
	count := 0
	for _, v := range m.Pix {
		if v > 128 {
			count++
		}
	}
	return float64(count) / float64(len(m.Pix))
}

// ToGray 导出为灰度图
func (m *AlphaMask) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+m.Width], m.Pix[y*m.Width:(y+1)*m.Width])
	}
	return img
}

// Composite 把精修后的掩码作为alpha通道合成到原图上，输出不与原图共享内存
func Composite(src *RasterBuffer, mask *AlphaMask) (*RasterBuffer, error) {
	if src.Width != mask.Width || src.Height != mask.Height {
		return nil, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			ErrCompositing, mask.Width, mask.Height, src.Width, src.Height)
	}

	out := src.Clone()
	for i := 0; i < len(mask.Pix); i++ {
		out.Pix[i*4+3] = mask.Pix[i]
	}
	return out, nil
}
