package dataset

import (
	"reflect"
	"testing"
)

func TestGetBatchShapesAndRanges(t *testing.T) {
	split := syntheticSplit(t, 25, 1)
	for _, n := range []int{1, 7, 25} {
		batch, err := split.GetBatch(n)
		if err != nil {
			t.Fatalf("GetBatch(%d): %v", n, err)
		}
		if batch.Len() != n {
			t.Fatalf("GetBatch(%d) returned %d samples", n, batch.Len())
		}
		if got := batch.Images.Shape(); !reflect.DeepEqual([]int(got), []int{n, Height, Width, Channels}) {
			t.Fatalf("image shape %v", got)
		}
		if got := batch.Labels.Shape(); !reflect.DeepEqual([]int(got), []int{n, NumClasses}) {
			t.Fatalf("label shape %v", got)
		}
		for _, v := range batch.ImageData() {
			if v < 0 || v > 1 {
				t.Fatalf("pixel out of range: %f", v)
			}
		}
		labels := batch.LabelData()
		for i, c := range batch.Classes {
			if c < 0 || c >= NumClasses {
				t.Fatalf("label out of range: %d", c)
			}
			sum := 0.0
			for k := 0; k < NumClasses; k++ {
				sum += labels[i*NumClasses+k]
			}
			if sum != 1 || labels[i*NumClasses+c] != 1 {
				t.Fatalf("sample %d not one-hot for class %d", i, c)
			}
		}
	}
}

func TestGetBatchWithoutReplacementWithinEpoch(t *testing.T) {
	split := syntheticSplit(t, 20, 3)
	seen := map[float64]bool{}
	for i := 0; i < 3; i++ {
		batch, err := split.GetBatch(5)
		if err != nil {
			t.Fatalf("GetBatch: %v", err)
		}
		for s := 0; s < batch.Len(); s++ {
			id := batch.ImageData()[s*Height*Width]
			if seen[id] {
				t.Fatalf("sample %v drawn twice in one epoch", id)
			}
			seen[id] = true
		}
	}
	if split.Epoch() != 0 {
		t.Fatalf("unexpected reshuffle, epoch=%d", split.Epoch())
	}
	// 15 rows consumed, 15+5 >= 20 forces a reshuffle.
	if _, err := split.GetBatch(5); err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if split.Epoch() != 1 {
		t.Fatalf("expected wrap-around, epoch=%d", split.Epoch())
	}
}

func TestGetBatchDeterministic(t *testing.T) {
	a := syntheticSplit(t, 30, 9)
	b := syntheticSplit(t, 30, 9)
	for i := 0; i < 4; i++ {
		ba, _ := a.GetBatch(8)
		bb, _ := b.GetBatch(8)
		if !reflect.DeepEqual(ba.Classes, bb.Classes) {
			t.Fatalf("same seed produced different batches: %v vs %v", ba.Classes, bb.Classes)
		}
	}
}

func TestGetBatchErrors(t *testing.T) {
	split := syntheticSplit(t, 4, 1)
	if _, err := split.GetBatch(0); err == nil {
		t.Fatal("expected error for empty batch")
	}
	if _, err := split.GetBatch(5); err == nil {
		t.Fatal("expected error for oversized batch")
	}
}

func TestNewSplitValidates(t *testing.T) {
	if _, err := NewSplit("x", make([]float64, 10), []int{1}, 0); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if _, err := NewSplit("x", make([]float64, Height*Width), []int{12}, 0); err == nil {
		t.Fatal("expected label range error")
	}
}

func TestSliceKeepsOrder(t *testing.T) {
	split := syntheticSplit(t, 12, 1)
	batch, err := split.Slice(10, 2)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if !reflect.DeepEqual(batch.Classes, []int{0, 1}) {
		t.Fatalf("unexpected classes %v", batch.Classes)
	}
	if _, err := split.Slice(11, 2); err == nil {
		t.Fatal("expected out of range error")
	}
}

// syntheticSplit stores sample i with every pixel set to i/n and label i%10.
func syntheticSplit(t *testing.T, n int, seed int64) *Split {
	t.Helper()
	pixels := Height * Width * Channels
	images := make([]float64, n*pixels)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = i % NumClasses
		for p := 0; p < pixels; p++ {
			images[i*pixels+p] = float64(i) / float64(n)
		}
	}
	split, err := NewSplit("synthetic", images, labels, seed)
	if err != nil {
		t.Fatalf("NewSplit: %v", err)
	}
	return split
}
