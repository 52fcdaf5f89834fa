package service

// 测试用的合成图像构造函数，仓库不携带二进制测试数据

func newSolidBuffer(w, h int, r, g, b uint8) *RasterBuffer {
	rb := NewRasterBuffer(w, h)
	for i := 0; i < w*h; i++ {
		p := i * 4
		rb.Pix[p] = r
		rb.Pix[p+1] = g
		rb.Pix[p+2] = b
		rb.Pix[p+3] = 255
	}
	return rb
}

func newCheckerboard(w, h, cell int, r1, g1, b1, r2, g2, b2 uint8) *RasterBuffer {
	rb := NewRasterBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := (y*w + x) * 4
			if (x/cell+y/cell)%2 == 0 {
				rb.Pix[p] = r1
				rb.Pix[p+1] = g1
				rb.Pix[p+2] = b1
			} else {
				rb.Pix[p] = r2
				rb.Pix[p+1] = g2
				rb.Pix[p+2] = b2
			}
			rb.Pix[p+3] = 255
		}
	}
	return rb
}

// newSubjectOnBackground 纯色背景加居中方形主体
func newSubjectOnBackground(w, h, subjectSize int) *RasterBuffer {
	rb := newSolidBuffer(w, h, 40, 90, 200) // 蓝色背景
	x0 := (w - subjectSize) / 2
	y0 := (h - subjectSize) / 2
	for y := y0; y < y0+subjectSize; y++ {
		for x := x0; x < x0+subjectSize; x++ {
			p := (y*w + x) * 4
			rb.Pix[p] = 200
			rb.Pix[p+1] = 50
			rb.Pix[p+2] = 40
		}
	}
	return rb
}
