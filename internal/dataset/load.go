package dataset

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options configures Load.
type Options struct {
	// ValidationSize images are carved off the front of the training file.
	ValidationSize int
	Seed           int64
}

// Load reads the digit dataset under dir and returns train, validation and
// test splits that share no samples.
func Load(dir string, opts Options) (*Splits, error) {
	files, err := DiscoverFiles(dir)
	if err != nil {
		return nil, err
	}

	trainImages, trainLabels, err := readPair(files.TrainImages, files.TrainLabels)
	if err != nil {
		return nil, err
	}
	testImages, testLabels, err := readPair(files.TestImages, files.TestLabels)
	if err != nil {
		return nil, err
	}

	v := opts.ValidationSize
	if v < 0 || v >= len(trainLabels) {
		return nil, errors.Errorf("validation size %d must be in [0, %d)", v, len(trainLabels))
	}
	pixels := Height * Width * Channels

	splits := &Splits{}
	splits.Train, err = NewSplit("train", trainImages[v*pixels:], trainLabels[v:], opts.Seed)
	if err != nil {
		return nil, err
	}
	if v > 0 {
		splits.Valid, err = NewSplit("validation", trainImages[:v*pixels], trainLabels[:v], opts.Seed+1)
		if err != nil {
			return nil, err
		}
	}
	splits.Test, err = NewSplit("test", testImages, testLabels, opts.Seed+2)
	if err != nil {
		return nil, err
	}

	klog.Infof("dataset dir=%s train=%d validation=%d test=%d", dir, splits.Train.Size(), v, splits.Test.Size())
	return splits, nil
}

func readPair(imagePath, labelPath string) ([]float64, []int, error) {
	imgs, err := OpenIDX(imagePath)
	if err != nil {
		return nil, nil, err
	}
	if len(imgs.Dims) != 3 || imgs.Dims[1] != Height || imgs.Dims[2] != Width {
		return nil, nil, errors.Wrapf(ErrFormat, "%s: image dims %v, want [n %d %d]", imagePath, imgs.Dims, Height, Width)
	}
	lbls, err := OpenIDX(labelPath)
	if err != nil {
		return nil, nil, err
	}
	if len(lbls.Dims) != 1 {
		return nil, nil, errors.Wrapf(ErrFormat, "%s: label dims %v", labelPath, lbls.Dims)
	}
	if imgs.Count() != lbls.Count() {
		return nil, nil, errors.Errorf("%s has %d images but %s has %d labels", imagePath, imgs.Count(), labelPath, lbls.Count())
	}

	images := make([]float64, len(imgs.Data))
	for i, px := range imgs.Data {
		images[i] = float64(px) / 255
	}
	labels := make([]int, len(lbls.Data))
	for i, l := range lbls.Data {
		labels[i] = int(l)
	}
	return images, labels, nil
}
