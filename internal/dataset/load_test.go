package dataset

import (
	"math"
	"testing"
)

func TestLoadCarvesValidation(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 30, 10, true)

	splits, err := Load(dir, Options{ValidationSize: 10, Seed: 5})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if splits.Train.Size() != 20 || splits.Valid.Size() != 10 || splits.Test.Size() != 10 {
		t.Fatalf("unexpected sizes train=%d valid=%d test=%d",
			splits.Train.Size(), splits.Valid.Size(), splits.Test.Size())
	}

	// Pixels encode the label as 20*label/255.
	batch, err := splits.Valid.Slice(0, 10)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	for i, c := range batch.Classes {
		if c != i%NumClasses {
			t.Fatalf("validation sample %d has label %d", i, c)
		}
		want := float64(20*c) / 255
		if got := batch.ImageData()[i*Height*Width]; math.Abs(got-want) > 1e-12 {
			t.Fatalf("pixel %f want %f", got, want)
		}
	}
}

func TestLoadRejectsOversizedValidation(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 5, 5, false)
	if _, err := Load(dir, Options{ValidationSize: 5}); err == nil {
		t.Fatal("expected validation size error")
	}
}

func TestLoadWithoutValidation(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 5, 5, false)
	splits, err := Load(dir, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if splits.Valid != nil {
		t.Fatal("expected no validation split")
	}
}
