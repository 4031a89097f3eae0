package imgproc

import (
	"image"
	"image/color"
	"math/rand/v2"

	"golang.org/x/image/draw"
)

// toRGBA copies img into an RGBA image anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// toGray copies img into a grayscale image anchored at the origin.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// BoxBlur averages every pixel over a (2r+1)x(2r+1) window, clamped at
// the edges. It runs a horizontal then a vertical sliding-window pass, so
// the cost per pixel does not depend on r.
func BoxBlur(img image.Image, r int) *image.RGBA {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(src.Bounds())
	if w == 0 || h == 0 {
		return dst
	}

	// Horizontal window sums per channel, kept undivided so the result
	// equals the direct window average.
	rows := make([]int, w*h*4)
	for y := 0; y < h; y++ {
		line := src.Pix[y*src.Stride:]
		out := rows[y*w*4:]
		var sum [4]int
		for dx := -r; dx <= r; dx++ {
			o := clamp(dx, 0, w-1) * 4
			for c := 0; c < 4; c++ {
				sum[c] += int(line[o+c])
			}
		}
		for x := 0; x < w; x++ {
			copy(out[x*4:x*4+4], sum[:])
			add := clamp(x+r+1, 0, w-1) * 4
			sub := clamp(x-r, 0, w-1) * 4
			for c := 0; c < 4; c++ {
				sum[c] += int(line[add+c]) - int(line[sub+c])
			}
		}
	}

	n := (2*r + 1) * (2*r + 1)
	for x := 0; x < w; x++ {
		var sum [4]int
		for dy := -r; dy <= r; dy++ {
			o := (clamp(dy, 0, h-1)*w + x) * 4
			for c := 0; c < 4; c++ {
				sum[c] += rows[o+c]
			}
		}
		for y := 0; y < h; y++ {
			p := dst.PixOffset(x, y)
			for c := 0; c < 4; c++ {
				dst.Pix[p+c] = uint8(sum[c] / n)
			}
			add := (clamp(y+r+1, 0, h-1)*w + x) * 4
			sub := (clamp(y-r, 0, h-1)*w + x) * 4
			for c := 0; c < 4; c++ {
				sum[c] += rows[add+c] - rows[sub+c]
			}
		}
	}
	return dst
}

// Contour marks edges: each pixel becomes the absolute luminance difference
// to its right-hand neighbour, inverted so edges are dark on white.
func Contour(img image.Image) *image.Gray {
	src := toGray(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(src.Bounds())

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			next := src.GrayAt(min(x+1, w-1), y).Y
			diff := int(src.GrayAt(x, y).Y) - int(next)
			if diff < 0 {
				diff = -diff
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(255 - diff)})
		}
	}
	return dst
}

// Rotate90 rotates the image a quarter turn clockwise.
func Rotate90(img image.Image) *image.RGBA {
	src := toRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(h-1-y, x, src.RGBAAt(x, y))
		}
	}
	return dst
}

// SaltNPepper replaces a fraction of the pixels with pure white or black.
func SaltNPepper(img image.Image, fraction float64, rng *rand.Rand) *image.RGBA {
	dst := toRGBA(img)
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := rng.Float64()
			switch {
			case p < fraction/2:
				dst.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
			case p < fraction:
				dst.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return dst
}

// Segment thresholds the image at its mean luminance: brighter pixels turn
// white, the rest black.
func Segment(img image.Image) *image.Gray {
	src := toGray(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return src
	}

	var sum int
	for _, v := range src.Pix {
		sum += int(v)
	}
	mean := sum / len(src.Pix)

	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if int(v) > mean {
			dst.Pix[i] = 255
		}
	}
	return dst
}

// Concat places b to the right of a. b is scaled to the height of a,
// keeping its aspect ratio.
func Concat(a, b image.Image) *image.RGBA {
	ab, bb := a.Bounds(), b.Bounds()
	h := ab.Dy()
	bw := bb.Dx()
	if bb.Dy() != h && bb.Dy() > 0 {
		bw = bb.Dx() * h / bb.Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, ab.Dx()+bw, h))
	draw.Draw(dst, image.Rect(0, 0, ab.Dx(), h), a, ab.Min, draw.Src)

	right := image.Rect(ab.Dx(), 0, ab.Dx()+bw, h)
	if bb.Dy() == h {
		draw.Draw(dst, right, b, bb.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, right, b, bb, draw.Src, nil)
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
