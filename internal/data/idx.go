package data

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
)

// IDX magic numbers (big-endian), as used by the MNIST distribution.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// IDX file names for the train and test splits.
const (
	idxTrainImages = "train-images-idx3-ubyte"
	idxTrainLabels = "train-labels-idx1-ubyte"
	idxTestImages  = "t10k-images-idx3-ubyte"
	idxTestLabels  = "t10k-labels-idx1-ubyte"
)

// IDXDataset is the built-in small image dataset, stored in the IDX binary
// format: grayscale images with one byte per pixel and integer labels.
// Pixels are normalized to [0, 1] on access.
type IDXDataset struct {
	images  [][]byte
	labels  []byte
	rows    int
	cols    int
	classes int
}

// LoadIDX reads the train or test split from dir.
func LoadIDX(dir string, train bool) (*IDXDataset, error) {
	imagesFile, labelsFile := idxTrainImages, idxTrainLabels
	if !train {
		imagesFile, labelsFile = idxTestImages, idxTestLabels
	}

	images, rows, cols, err := readIDXImages(filepath.Join(dir, imagesFile))
	if err != nil {
		return nil, err
	}
	labels, err := readIDXLabels(filepath.Join(dir, labelsFile))
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("data: %d images but %d labels", len(images), len(labels))
	}

	classes := 0
	for _, l := range labels {
		if int(l) >= classes {
			classes = int(l) + 1
		}
	}

	return &IDXDataset{
		images:  images,
		labels:  labels,
		rows:    rows,
		cols:    cols,
		classes: classes,
	}, nil
}

// SyntheticIDX generates a deterministic stand-in dataset with the same
// geometry as the real files: each class is a blurred bright square at a
// class-specific position plus noise. Useful for demos and tests without
// the dataset downloaded.
func SyntheticIDX(n, rows, cols, classes int, seed int64) *IDXDataset {
	rng := rand.New(rand.NewSource(seed))
	images := make([][]byte, n)
	labels := make([]byte, n)
	for i := range images {
		label := i % classes
		labels[i] = byte(label)
		img := make([]byte, rows*cols)

		// Class-specific bright patch on a noisy background. The patch
		// shrinks with the image so small geometries still carry signal.
		patch := 6
		if patch > rows {
			patch = rows
		}
		if patch > cols {
			patch = cols
		}
		cy := (label * 31) % (rows - patch + 1)
		cx := (label * 17) % (cols - patch + 1)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				v := rng.Intn(40)
				dy, dx := y-cy, x-cx
				if dy >= 0 && dy < patch && dx >= 0 && dx < patch {
					fade := float64((patch-dy)*(patch-dx)) / float64(patch*patch)
					v += int(200 * fade)
				}
				if v > 255 {
					v = 255
				}
				img[y*cols+x] = byte(v)
			}
		}
		images[i] = img
	}
	return &IDXDataset{images: images, labels: labels, rows: rows, cols: cols, classes: classes}
}

// Len returns the number of samples.
func (d *IDXDataset) Len() int { return len(d.images) }

// Bounds returns (rows, cols, 1); IDX images are single-channel.
func (d *IDXDataset) Bounds() (int, int, int) { return d.rows, d.cols, 1 }

// NumClasses returns the number of distinct labels.
func (d *IDXDataset) NumClasses() int { return d.classes }

// Sample normalizes image i to [0, 1] floats.
func (d *IDXDataset) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(d.images) {
		return Sample{}, fmt.Errorf("data: index %d outside [0, %d)", i, len(d.images))
	}
	raw := d.images[i]
	pixels := make([]float32, len(raw))
	for j, b := range raw {
		pixels[j] = float32(b) / 255
	}
	return Sample{Pixels: pixels, Label: int(d.labels[i])}, nil
}

// Split partitions the dataset into train and validation parts, with frac
// (0 < frac < 1) of the samples going to validation.
func (d *IDXDataset) Split(frac float64) (*IDXDataset, *IDXDataset) {
	val := int(math.Round(float64(len(d.images)) * frac))
	cut := len(d.images) - val
	train := &IDXDataset{images: d.images[:cut], labels: d.labels[:cut],
		rows: d.rows, cols: d.cols, classes: d.classes}
	valid := &IDXDataset{images: d.images[cut:], labels: d.labels[cut:],
		rows: d.rows, cols: d.cols, classes: d.classes}
	return train, valid
}

// readIDXImages reads an IDX3 image file.
//
// Layout: magic 2051, image count, rows, cols (all uint32 big-endian),
// then one byte per pixel.
func readIDXImages(path string) ([][]byte, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.BigEndian, &magic); err != nil {
		return nil, 0, 0, fmt.Errorf("data: read magic: %w", err)
	}
	if magic != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("data: bad image magic: got %d, want %d", magic, idxImagesMagic)
	}

	var count, rows, cols uint32
	for _, v := range []*uint32{&count, &rows, &cols} {
		if err := binary.Read(f, binary.BigEndian, v); err != nil {
			return nil, 0, 0, fmt.Errorf("data: read dimensions: %w", err)
		}
	}

	size := int(rows * cols)
	images := make([][]byte, count)
	for i := range images {
		images[i] = make([]byte, size)
		if _, err := io.ReadFull(f, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("data: read image %d: %w", i, err)
		}
	}
	return images, int(rows), int(cols), nil
}

// readIDXLabels reads an IDX1 label file.
//
// Layout: magic 2049, label count (uint32 big-endian), one byte per label.
func readIDXLabels(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("data: read magic: %w", err)
	}
	if magic != idxLabelsMagic {
		return nil, fmt.Errorf("data: bad label magic: got %d, want %d", magic, idxLabelsMagic)
	}

	var count uint32
	if err := binary.Read(f, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("data: read count: %w", err)
	}

	labels := make([]byte, count)
	if _, err := io.ReadFull(f, labels); err != nil {
		return nil, fmt.Errorf("data: read labels: %w", err)
	}
	return labels, nil
}
