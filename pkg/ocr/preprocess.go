package ocr

import (
	"image"
	"sort"

	"github.com/disintegration/imaging"
)

// ThresholdMode selects the binarization applied at the end of Preprocess.
type ThresholdMode int

const (
	ThresholdNone ThresholdMode = iota
	ThresholdGlobal
	ThresholdAdaptive
)

// PreprocessOptions controls the filter chain. Zero values disable a step
// except where noted.
type PreprocessOptions struct {
	Denoise   bool
	Contrast  float64 // percentage passed to imaging.AdjustContrast
	Sharpen   float64 // sigma passed to imaging.Sharpen
	MinHeight int     // upscale (Lanczos) when the image is shorter
	Threshold ThresholdMode
	Level     uint8 // global threshold level
	Window    int   // adaptive window size
	Bias      int   // adaptive bias subtracted from the local mean
	Dilate    int
}

// DefaultPreprocess is tuned for phone photos of prescription pads.
func DefaultPreprocess() PreprocessOptions {
	return PreprocessOptions{
		Denoise:   true,
		Contrast:  20,
		Sharpen:   0.8,
		MinHeight: 1200,
		Threshold: ThresholdNone,
		Level:     180,
		Window:    25,
		Bias:      10,
	}
}

// Preprocess runs grayscale, denoise, contrast, sharpen, resize and optional
// thresholding. The input is never modified.
func Preprocess(img image.Image, opts PreprocessOptions) (*image.NRGBA, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	out := imaging.Grayscale(img)
	if opts.Denoise {
		out = MedianDenoise(out)
	}
	if opts.Contrast != 0 {
		out = imaging.AdjustContrast(out, opts.Contrast)
	}
	if opts.Sharpen > 0 {
		out = imaging.Sharpen(out, opts.Sharpen)
	}
	if opts.MinHeight > 0 && out.Bounds().Dy() < opts.MinHeight {
		out = imaging.Resize(out, 0, opts.MinHeight, imaging.Lanczos)
	}
	switch opts.Threshold {
	case ThresholdGlobal:
		out = Binarize(out, opts.Level)
	case ThresholdAdaptive:
		out = AdaptiveThreshold(out, opts.Window, opts.Bias)
	}
	if opts.Dilate > 0 {
		out = Dilate(out, opts.Dilate)
	}
	return out, nil
}

// luma reads img into a row-major slice of 8-bit intensities.
func luma(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	px := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			px[y*w+x] = uint8(((r + g + bb) / 3) >> 8)
		}
	}
	return px, w, h
}

func fromLuma(px []uint8, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, v := range px {
		o := i * 4
		out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = v, v, v, 255
	}
	return out
}

// MedianDenoise applies a 3x3 median filter, which removes salt-and-pepper
// speckle from pad paper without blurring pen strokes as much as a blur.
func MedianDenoise(img image.Image) *image.NRGBA {
	px, w, h := luma(img)
	dst := make([]uint8, len(px))
	win := make([]uint8, 0, 9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			win = win[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= w || yy >= h {
						continue
					}
					win = append(win, px[yy*w+xx])
				}
			}
			sort.Slice(win, func(i, j int) bool { return win[i] < win[j] })
			dst[y*w+x] = win[len(win)/2]
		}
	}
	return fromLuma(dst, w, h)
}

// Binarize maps pixels at or below level to black and the rest to white.
func Binarize(img image.Image, level uint8) *image.NRGBA {
	px, w, h := luma(img)
	for i, v := range px {
		if v <= level {
			px[i] = 0
		} else {
			px[i] = 255
		}
	}
	return fromLuma(px, w, h)
}

// AdaptiveThreshold compares each pixel with the mean of its window (minus
// bias) using a summed-area table.
func AdaptiveThreshold(img image.Image, window, bias int) *image.NRGBA {
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	px, w, h := luma(img)
	sat := make([]int, (w+1)*(h+1))
	for y := 1; y <= h; y++ {
		row := 0
		for x := 1; x <= w; x++ {
			row += int(px[(y-1)*w+x-1])
			sat[y*(w+1)+x] = sat[(y-1)*(w+1)+x] + row
		}
	}
	half := window / 2
	dst := make([]uint8, len(px))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			sum := sat[(y1+1)*(w+1)+x1+1] - sat[y0*(w+1)+x1+1] - sat[(y1+1)*(w+1)+x0] + sat[y0*(w+1)+x0]
			mean := sum / ((x1 - x0 + 1) * (y1 - y0 + 1))
			if int(px[y*w+x]) < mean-bias {
				dst[y*w+x] = 0
			} else {
				dst[y*w+x] = 255
			}
		}
	}
	return fromLuma(dst, w, h)
}

// Dilate thickens dark strokes using a 4-neighbourhood, radius times.
func Dilate(img image.Image, radius int) *image.NRGBA {
	px, w, h := luma(img)
	for r := 0; r < radius; r++ {
		next := make([]uint8, len(px))
		for i := range next {
			next[i] = 255
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for _, d := range [5][2]int{{0, 0}, {1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					xx, yy := x+d[0], y+d[1]
					if xx < 0 || yy < 0 || xx >= w || yy >= h {
						continue
					}
					if px[yy*w+xx] == 0 {
						next[y*w+x] = 0
						break
					}
				}
			}
		}
		px = next
	}
	return fromLuma(px, w, h)
}
