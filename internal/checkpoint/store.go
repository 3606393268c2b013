// Package checkpoint persists model parameters under a training directory.
//
// Every snapshot is a file named model.ckpt-<step>.json.z. A JSON index
// named "checkpoint" records the latest snapshot and the retained history,
// oldest first.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const indexName = "checkpoint"

type index struct {
	Latest string   `json:"latest"`
	All    []string `json:"all"`
}

// Store writes and reads snapshots in one directory.
type Store struct {
	dir       string
	maxToKeep int
}

// NewStore creates dir if needed. maxToKeep <= 0 keeps every snapshot.
func NewStore(dir string, maxToKeep int) (*Store, error) {
	if dir == "" {
		return nil, errors.New("checkpoint: directory must be set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "checkpoint: create directory")
	}
	return &Store{dir: dir, maxToKeep: maxToKeep}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// FileName returns the snapshot file name used for step.
func FileName(step int) string {
	return fmt.Sprintf("model.ckpt-%d.json.z", step)
}

// Save writes snap, points the index at it and prunes old snapshots. It
// returns the snapshot path.
func (s *Store) Save(snap Snapshot) (string, error) {
	name := FileName(snap.Step)
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, func(f *os.File) error { return WriteSnapshot(f, snap) }); err != nil {
		return "", errors.Wrapf(err, "checkpoint: save step %d", snap.Step)
	}

	idx, err := s.readIndex()
	if err != nil {
		return "", err
	}
	all := idx.All[:0]
	for _, n := range idx.All {
		if n != name {
			all = append(all, n)
		}
	}
	all = append(all, name)
	var pruned []string
	if s.maxToKeep > 0 && len(all) > s.maxToKeep {
		pruned = all[:len(all)-s.maxToKeep]
		all = all[len(all)-s.maxToKeep:]
	}
	if err := s.writeIndex(index{Latest: name, All: all}); err != nil {
		return "", err
	}
	for _, n := range pruned {
		if err := os.Remove(filepath.Join(s.dir, n)); err != nil && !os.IsNotExist(err) {
			klog.Warningf("checkpoint prune file=%s err=%v", n, err)
		}
	}
	return path, nil
}

// Latest returns the path of the newest snapshot. ok is false when the
// directory holds no index yet.
func (s *Store) Latest() (path string, ok bool, err error) {
	idx, err := s.readIndex()
	if err != nil {
		return "", false, err
	}
	if idx.Latest == "" {
		return "", false, nil
	}
	return filepath.Join(s.dir, idx.Latest), true, nil
}

// History returns the retained snapshot paths, oldest first.
func (s *Store) History() ([]string, error) {
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(idx.All))
	for i, n := range idx.All {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths, nil
}

// Load reads the snapshot at path.
func (s *Store) Load(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "checkpoint: open")
	}
	defer f.Close()
	snap, err := ReadSnapshot(f)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "checkpoint: read %s", path)
	}
	return snap, nil
}

func (s *Store) readIndex() (index, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, indexName))
	if os.IsNotExist(err) {
		return index{}, nil
	}
	if err != nil {
		return index{}, errors.Wrap(err, "checkpoint: read index")
	}
	var idx index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return index{}, errors.Wrap(err, "checkpoint: parse index")
	}
	return idx, nil
}

func (s *Store) writeIndex(idx index) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.Wrap(err, "checkpoint: encode index")
	}
	path := filepath.Join(s.dir, indexName)
	err = writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(append(raw, '\n'))
		return err
	})
	return errors.Wrap(err, "checkpoint: write index")
}

// writeAtomic writes through a temporary file renamed over path.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
