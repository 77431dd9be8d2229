package clip

import (
	"image"

	"golang.org/x/image/draw"
)

// ImageSize is the square input resolution of ViT-B CLIP checkpoints.
const ImageSize = 224

var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocess resizes the shortest side to size, center-crops a size×size
// square and returns normalized pixels in NCHW order (batch of one).
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	sw, sh := size, size
	if w < h {
		sh = (h*size + w/2) / w
	} else {
		sw = (w*size + h/2) / h
	}
	if sw < size {
		sw = size
	}
	if sh < size {
		sh = size
	}

	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	x0 := (sw - size) / 2
	y0 := (sh - size) / 2

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			px := scaled.RGBAAt(x0+x, y0+y)
			i := y*size + x
			out[i] = (float32(px.R)/255 - ClipMean[0]) / ClipStd[0]
			out[plane+i] = (float32(px.G)/255 - ClipMean[1]) / ClipStd[1]
			out[2*plane+i] = (float32(px.B)/255 - ClipMean[2]) / ClipStd[2]
		}
	}
	return out
}
