// Package preprocess turns uploaded image bytes into the fixed-size, normalized
// input the image tower expects.
package preprocess

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// ResizeMode selects how a non-square image is fitted to the model input.
type ResizeMode string

const (
	// ResizeShortest scales the shortest side to Size then center crops.
	ResizeShortest ResizeMode = "shortest"
	// ResizeSquash scales directly to Size x Size, ignoring aspect ratio.
	ResizeSquash ResizeMode = "squash"
)

// Transform mirrors the eval-time preprocessing of CLIP-family models.
type Transform struct {
	Size int
	Mean [3]float32
	Std  [3]float32
	Mode ResizeMode
}

// Tensor is a dense CHW float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

var (
	siglipMean = [3]float32{0.5, 0.5, 0.5}
	siglipStd  = [3]float32{0.5, 0.5, 0.5}
	clipMean   = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd    = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// SigLIP returns the transform used by SigLIP checkpoints.
func SigLIP(size int) Transform {
	return Transform{Size: size, Mean: siglipMean, Std: siglipStd, Mode: ResizeSquash}
}

// CLIP returns the transform used by OpenAI CLIP checkpoints.
func CLIP(size int) Transform {
	return Transform{Size: size, Mean: clipMean, Std: clipStd, Mode: ResizeShortest}
}

// Preset resolves a preset name; unknown names yield an error.
func Preset(name string, size int) (Transform, error) {
	switch name {
	case "", "siglip":
		return SigLIP(size), nil
	case "clip":
		return CLIP(size), nil
	default:
		return Transform{}, fmt.Errorf("unknown preprocess preset %q", name)
	}
}

// Validate checks the transform is usable.
func (t Transform) Validate() error {
	if t.Size <= 0 {
		return fmt.Errorf("image size must be positive, got %d", t.Size)
	}
	for i, s := range t.Std {
		if s == 0 {
			return fmt.Errorf("std[%d] must be non-zero", i)
		}
	}
	switch t.Mode {
	case ResizeShortest, ResizeSquash:
	default:
		return fmt.Errorf("unknown resize mode %q", t.Mode)
	}
	return nil
}

// Resized returns the Size x Size opaque RGB image that feeds the model.
// Resampling happens on the image with its alpha; the color channels are
// then kept as stored (non-premultiplied) and alpha is discarded, the way
// PIL's convert("RGB") behaves.
func (t Transform) Resized(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, t.Size, t.Size))
	if t.Mode == ResizeSquash {
		scaled := image.NewNRGBA(image.Rect(0, 0, t.Size, t.Size))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
		dropAlpha(dst, scaled, image.Point{})
		return dst
	}
	// Scale shortest side to Size, keep aspect, then crop the center.
	sw, sh := t.Size, t.Size
	if w < h {
		sh = int(float64(h)*float64(t.Size)/float64(w) + 0.5)
	} else {
		sw = int(float64(w)*float64(t.Size)/float64(h) + 0.5)
	}
	scaled := image.NewNRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
	dropAlpha(dst, scaled, image.Pt((sw-t.Size)/2, (sh-t.Size)/2))
	return dst
}

// dropAlpha copies the color channels of src, starting at off, into dst and
// marks every dst pixel opaque.
func dropAlpha(dst *image.RGBA, src *image.NRGBA, off image.Point) {
	size := dst.Bounds().Size()
	for y := 0; y < size.Y; y++ {
		s := src.Pix[(off.Y+y)*src.Stride+off.X*4:]
		d := dst.Pix[y*dst.Stride:]
		for x := 0; x < size.X; x++ {
			d[x*4+0] = s[x*4+0]
			d[x*4+1] = s[x*4+1]
			d[x*4+2] = s[x*4+2]
			d[x*4+3] = 0xff
		}
	}
}

// Apply runs the full transform and returns a [3, Size, Size] tensor.
func (t Transform) Apply(src image.Image) Tensor {
	return t.ToTensor(t.Resized(src))
}

// ToTensor converts an already resized image into a normalized CHW tensor.
func (t Transform) ToTensor(img *image.RGBA) Tensor {
	plane := t.Size * t.Size
	data := make([]float32, 3*plane)
	for y := 0; y < t.Size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < t.Size; x++ {
			p := row[x*4:]
			idx := y*t.Size + x
			for c := 0; c < 3; c++ {
				v := float32(p[c]) / 255
				data[c*plane+idx] = (v - t.Mean[c]) / t.Std[c]
			}
		}
	}
	return Tensor{Shape: []int{3, t.Size, t.Size}, Data: data}
}

// EncodePNG serializes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI returns img as a base64 PNG data URI.
func DataURI(img image.Image) (string, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b), nil
}
