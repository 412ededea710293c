// Package imaging turns encoded image bytes into the float tensor a
// classifier expects.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp" // register BMP decoder

	"github.com/example/deepfake-detector/internal/apperror"
)

// ChannelOrder is the colour channel order the model was trained on.
type ChannelOrder string

// Layout is the tensor memory layout.
type Layout string

const (
	RGB ChannelOrder = "RGB"
	BGR ChannelOrder = "BGR"

	NCHW Layout = "NCHW"
	NHWC Layout = "NHWC"
)

// DefaultMaxPixels bounds width*height of an accepted image. A 16MB upload can
// declare far more pixels than that once decoded.
const DefaultMaxPixels = 40_000_000

// Options describe the model input contract.
type Options struct {
	Size         int
	Mean         [3]float32
	Std          [3]float32
	ChannelOrder ChannelOrder
	Layout       Layout
	// MaxPixels rejects images whose header declares more pixels. Zero disables the check.
	MaxPixels int64
}

// DefaultOptions matches a ViT-base 224x224 classifier.
func DefaultOptions() Options {
	return Options{
		Size:         224,
		Mean:         [3]float32{0.5, 0.5, 0.5},
		Std:          [3]float32{0.5, 0.5, 0.5},
		ChannelOrder: RGB,
		Layout:       NCHW,
		MaxPixels:    DefaultMaxPixels,
	}
}

// TensorLen is the number of float32 values Preprocess produces.
func (o Options) TensorLen() int {
	return 3 * o.Size * o.Size
}

// Decode parses data as JPEG, PNG, GIF or BMP. The header is read first and
// images declaring more than maxPixels pixels are rejected before any pixel
// buffer is allocated; maxPixels <= 0 disables the check.
func Decode(data []byte, maxPixels int64) (image.Image, string, error) {
	const op = "imaging.decode"
	if len(data) == 0 {
		return nil, "", apperror.Validation(op, "Empty image file")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperror.New(apperror.ErrValidation, op, "Invalid image file", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", apperror.New(apperror.ErrValidation, op, "Image dimensions too large",
			fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperror.New(apperror.ErrValidation, op, "Invalid image file", err)
	}
	return img, format, nil
}

// Preprocess decodes data and converts it to a normalized tensor.
func Preprocess(data []byte, opts Options) ([]float32, error) {
	img, _, err := Decode(data, opts.MaxPixels)
	if err != nil {
		return nil, err
	}
	return ToTensor(img, opts)
}

// ToTensor resizes img to opts.Size square, rescales pixels to [0,1] and
// normalizes each channel with (x - mean) / std.
func ToTensor(img image.Image, opts Options) ([]float32, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("imaging: invalid input size %d", opts.Size)
	}
	for _, s := range opts.Std {
		if s == 0 {
			return nil, fmt.Errorf("imaging: std must be non-zero")
		}
	}

	size := opts.Size
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	bounds := resized.Bounds()

	out := make([]float32, opts.TensorLen())
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			px := [3]float32{
				float32(r>>8) / 255,
				float32(g>>8) / 255,
				float32(b>>8) / 255,
			}
			if opts.ChannelOrder == BGR {
				px[0], px[2] = px[2], px[0]
			}

			idx := y*size + x
			for c := 0; c < 3; c++ {
				v := (px[c] - opts.Mean[c]) / opts.Std[c]
				if opts.Layout == NHWC {
					out[idx*3+c] = v
				} else {
					out[c*plane+idx] = v
				}
			}
		}
	}
	return out, nil
}
