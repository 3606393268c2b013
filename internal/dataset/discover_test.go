package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFilesPrefersRaw(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 4, 2, true)
	writeDataset(t, dir, 4, 2, false)
	if err := os.WriteFile(filepath.Join(dir, "README"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	files, err := DiscoverFiles(dir)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	want := filepath.Join(dir, "train-images-idx3-ubyte")
	if files.TrainImages != want {
		t.Fatalf("train images %s want %s", files.TrainImages, want)
	}
	if filepath.Base(files.TestLabels) != "t10k-labels-idx1-ubyte" {
		t.Fatalf("unexpected test labels %s", files.TestLabels)
	}
}

func TestDiscoverFilesMissing(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 4, 2, true)
	if err := os.Remove(filepath.Join(dir, "t10k-labels-idx1-ubyte.gz")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := DiscoverFiles(dir); err == nil {
		t.Fatal("expected missing file error")
	}
}
