package dataset

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// DecodeImage decodes a PNG or JPEG and converts it to a sample.
func DecodeImage(raw []byte, invert bool) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return FromImage(img, invert)
}

// FromImage samples img on a Height x Width grid and returns grayscale
// intensities in [0, 1]. Digits are expected light on dark; set invert for
// dark ink on a light background.
func FromImage(img image.Image, invert bool) ([]float64, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	features := make([]float64, Height*Width)
	stepX := float64(width) / float64(Width)
	stepY := float64(height) / float64(Height)
	for gy := 0; gy < Height; gy++ {
		for gx := 0; gx < Width; gx++ {
			px := bounds.Min.X + int(math.Min(float64(width-1), float64(gx)*stepX))
			py := bounds.Min.Y + int(math.Min(float64(height-1), float64(gy)*stepY))
			r, g, b, _ := img.At(px, py).RGBA()
			intensity := (float64(r) + float64(g) + float64(b)) / (3 * 65535.0)
			if invert {
				intensity = 1 - intensity
			}
			features[gy*Width+gx] = intensity
		}
	}
	return features, nil
}

// UnlabelledBatch stacks samples produced by FromImage into a batch without
// labels.
func UnlabelledBatch(samples [][]float64) (Batch, error) {
	pixels := Height * Width * Channels
	if len(samples) == 0 {
		return Batch{}, errors.New("no samples")
	}
	backing := make([]float64, 0, len(samples)*pixels)
	for i, s := range samples {
		if len(s) != pixels {
			return Batch{}, errors.Errorf("sample %d has %d values, want %d", i, len(s), pixels)
		}
		backing = append(backing, s...)
	}
	return Batch{
		Images: tensor.New(tensor.WithShape(len(samples), Height, Width, Channels), tensor.WithBacking(backing)),
	}, nil
}
