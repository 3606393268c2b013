package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestDecodeImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 56, 56))
	for y := 0; y < 56; y++ {
		for x := 0; x < 56; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 255)})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	features, err := DecodeImage(buf.Bytes(), false)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if len(features) != Height*Width {
		t.Fatalf("expected %d features, got %d", Height*Width, len(features))
	}
	for _, v := range features {
		if v < 0 || v > 1 {
			t.Fatalf("feature out of range: %f", v)
		}
	}
}

func TestFromImageInvert(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, Width, Height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	features, err := FromImage(img, true)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	for _, v := range features {
		if v != 0 {
			t.Fatalf("white background should invert to 0, got %f", v)
		}
	}
}

func TestUnlabelledBatch(t *testing.T) {
	sample := make([]float64, Height*Width)
	batch, err := UnlabelledBatch([][]float64{sample, sample})
	if err != nil {
		t.Fatalf("UnlabelledBatch: %v", err)
	}
	if batch.Len() != 2 || batch.Labels != nil {
		t.Fatalf("unexpected batch len=%d labels=%v", batch.Len(), batch.Labels)
	}
	if _, err := UnlabelledBatch([][]float64{{1, 2}}); err == nil {
		t.Fatal("expected size error")
	}
}
