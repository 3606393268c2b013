package dataset

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

// Files names the four IDX files of the digit dataset.
type Files struct {
	TrainImages string
	TrainLabels string
	TestImages  string
	TestLabels  string
}

var idxRegexp = regexp.MustCompile(`^(train|t10k)-(images|labels)[-.]idx[13]-ubyte(\.gz)?$`)

// DiscoverFiles locates the dataset files directly beneath dir. When both a
// raw and a gzipped copy exist, the raw copy wins.
func DiscoverFiles(dir string) (Files, error) {
	found := make(map[string][]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Files{}, errors.Wrap(err, "discover dataset")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := idxRegexp.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		key := m[1] + "-" + m[2]
		found[key] = append(found[key], filepath.Join(dir, e.Name()))
	}

	pick := func(key string) (string, error) {
		paths := found[key]
		if len(paths) == 0 {
			return "", errors.Errorf("discover dataset: no %s file under %s", key, dir)
		}
		// "x-ubyte" sorts before "x-ubyte.gz".
		sort.Strings(paths)
		return paths[0], nil
	}

	var files Files
	for _, slot := range []struct {
		key string
		dst *string
	}{
		{"train-images", &files.TrainImages},
		{"train-labels", &files.TrainLabels},
		{"t10k-images", &files.TestImages},
		{"t10k-labels", &files.TestLabels},
	} {
		p, err := pick(slot.key)
		if err != nil {
			return Files{}, err
		}
		*slot.dst = p
	}
	return files, nil
}
