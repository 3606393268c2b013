package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"digitcnn/internal/model"
)

func testParams() []*model.Param {
	w := model.NewParam("fc/weights", true, 2, 3)
	b := model.NewParam("fc/biases", false, 3)
	for i := range w.Data() {
		w.Data()[i] = float64(i) * 0.5
	}
	copy(b.Data(), []float64{-1, 0, 1})
	return []*model.Param{w, b}
}

func TestSaveLoadRestore(t *testing.T) {
	store, err := NewStore(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	params := testParams()
	runID := uuid.New()
	path, err := store.Save(FromParams(runID, 40, params))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "model.ckpt-40.json.z" {
		t.Fatalf("unexpected path %s", path)
	}

	latest, ok, err := store.Latest()
	if err != nil || !ok || latest != path {
		t.Fatalf("Latest = %s %v %v", latest, ok, err)
	}
	snap, err := store.Load(latest)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Step != 40 || snap.RunID != runID {
		t.Fatalf("unexpected header step=%d run=%s", snap.Step, snap.RunID)
	}

	fresh := []*model.Param{model.NewParam("fc/weights", true, 2, 3), model.NewParam("fc/biases", false, 3)}
	if err := snap.Restore(fresh); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if model.Checksum(fresh) != model.Checksum(params) {
		t.Fatal("restored parameters differ from saved ones")
	}
}

func TestLatestEmpty(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "nested"), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok, err := store.Latest(); ok || err != nil {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}
}

func TestSavePrunesOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	params := testParams()
	for _, step := range []int{10, 20, 30} {
		if _, err := store.Save(FromParams(uuid.New(), step, params)); err != nil {
			t.Fatalf("Save %d: %v", step, err)
		}
	}
	history, err := store.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || filepath.Base(history[0]) != FileName(20) || filepath.Base(history[1]) != FileName(30) {
		t.Fatalf("unexpected history %v", history)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName(10))); !os.IsNotExist(err) {
		t.Fatalf("expected step 10 pruned, stat err=%v", err)
	}
}

func TestRestoreMismatch(t *testing.T) {
	snap := FromParams(uuid.New(), 1, testParams())
	other := []*model.Param{model.NewParam("fc/weights", true, 3, 2), model.NewParam("fc/biases", false, 3)}
	before := model.Checksum(other)
	if err := snap.Restore(other); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if model.Checksum(other) != before {
		t.Fatal("failed restore modified parameters")
	}
}
