package checkpoint

import (
	"compress/zlib"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"digitcnn/internal/model"
)

// ErrMismatch reports a snapshot whose tensors do not fit the model.
var ErrMismatch = errors.New("checkpoint: parameters do not match model")

// Tensor is one serialised parameter.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Snapshot is the persisted state of a training run at a given step.
type Snapshot struct {
	RunID   uuid.UUID `json:"run_id"`
	Step    int       `json:"step"`
	SavedAt time.Time `json:"saved_at"`
	Params  []Tensor  `json:"params"`
}

// FromParams copies the current parameter values into a snapshot.
func FromParams(runID uuid.UUID, step int, params []*model.Param) Snapshot {
	snap := Snapshot{RunID: runID, Step: step, SavedAt: time.Now().UTC()}
	for _, p := range params {
		snap.Params = append(snap.Params, Tensor{
			Name:  p.Name,
			Shape: p.Shape(),
			Data:  append([]float64(nil), p.Data()...),
		})
	}
	return snap
}

// Restore copies snapshot values into params. Names, order and shapes must
// match exactly; params are left untouched on mismatch.
func (s Snapshot) Restore(params []*model.Param) error {
	if len(s.Params) != len(params) {
		return errors.Wrapf(ErrMismatch, "snapshot has %d tensors, model has %d", len(s.Params), len(params))
	}
	for i, p := range params {
		t := s.Params[i]
		if t.Name != p.Name {
			return errors.Wrapf(ErrMismatch, "tensor %d is %q, want %q", i, t.Name, p.Name)
		}
		if !sameShape(t.Shape, p.Shape()) || len(t.Data) != len(p.Data()) {
			return errors.Wrapf(ErrMismatch, "%s has shape %v, want %v", t.Name, t.Shape, p.Shape())
		}
	}
	for i, p := range params {
		copy(p.Data(), s.Params[i].Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WriteSnapshot writes snap as zlib-compressed JSON.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	zw := zlib.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	return errors.Wrap(zw.Close(), "compress snapshot")
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "decompress snapshot")
	}
	defer zr.Close()
	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode snapshot")
	}
	return snap, nil
}
