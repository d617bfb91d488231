package data

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeIDXFixture writes a tiny valid IDX train split into dir.
func writeIDXFixture(t *testing.T, dir string, images [][]byte, labels []byte, rows, cols int) {
	t.Helper()

	var imgBuf bytes.Buffer
	for _, v := range []uint32{idxImagesMagic, uint32(len(images)), uint32(rows), uint32(cols)} {
		if err := binary.Write(&imgBuf, binary.BigEndian, v); err != nil {
			t.Fatalf("write image header: %v", err)
		}
	}
	for _, img := range images {
		imgBuf.Write(img)
	}
	if err := os.WriteFile(filepath.Join(dir, idxTrainImages), imgBuf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	var lblBuf bytes.Buffer
	for _, v := range []uint32{idxLabelsMagic, uint32(len(labels))} {
		if err := binary.Write(&lblBuf, binary.BigEndian, v); err != nil {
			t.Fatalf("write label header: %v", err)
		}
	}
	lblBuf.Write(labels)
	if err := os.WriteFile(filepath.Join(dir, idxTrainLabels), lblBuf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadIDX(t *testing.T) {
	dir := t.TempDir()
	images := [][]byte{
		{0, 128, 255, 64},
		{10, 20, 30, 40},
	}
	writeIDXFixture(t, dir, images, []byte{1, 0}, 2, 2)

	ds, err := LoadIDX(dir, true)
	if err != nil {
		t.Fatal(err)
	}

	if ds.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", ds.Len())
	}
	h, w, c := ds.Bounds()
	if h != 2 || w != 2 || c != 1 {
		t.Fatalf("expected bounds 2x2x1, got %dx%dx%d", h, w, c)
	}
	if ds.NumClasses() != 2 {
		t.Fatalf("expected 2 classes, got %d", ds.NumClasses())
	}

	s, err := ds.Sample(0)
	if err != nil {
		t.Fatal(err)
	}
	if s.Label != 1 {
		t.Errorf("expected label 1, got %d", s.Label)
	}
	if s.Pixels[2] != 1 {
		t.Errorf("pixel 255 must normalize to 1, got %f", s.Pixels[2])
	}
	for i, p := range s.Pixels {
		if p < 0 || p > 1 {
			t.Errorf("pixel %d outside [0,1]: %f", i, p)
		}
	}
}

func TestLoadIDX_BadMagic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, idxTrainImages),
		[]byte{0, 0, 0, 99, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, idxTrainLabels),
		[]byte{0, 0, 7, 209, 0, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadIDX(dir, true); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestLoadIDX_Missing(t *testing.T) {
	if _, err := LoadIDX(t.TempDir(), true); err == nil {
		t.Fatal("expected error for missing files")
	}
}

func TestSyntheticIDX(t *testing.T) {
	ds := SyntheticIDX(100, 28, 28, 10, 42)

	if ds.Len() != 100 {
		t.Fatalf("expected 100 samples, got %d", ds.Len())
	}
	if ds.NumClasses() != 10 {
		t.Fatalf("expected 10 classes, got %d", ds.NumClasses())
	}

	s, err := ds.Sample(13)
	if err != nil {
		t.Fatal(err)
	}
	if s.Label != 3 {
		t.Errorf("expected label 3 for sample 13, got %d", s.Label)
	}
	for i, p := range s.Pixels {
		if p < 0 || p > 1 {
			t.Fatalf("pixel %d outside [0,1]: %f", i, p)
		}
	}
}

func TestSyntheticIDX_Deterministic(t *testing.T) {
	a := SyntheticIDX(10, 8, 8, 2, 7)
	b := SyntheticIDX(10, 8, 8, 2, 7)

	sa, _ := a.Sample(5)
	sb, _ := b.Sample(5)
	for i := range sa.Pixels {
		if sa.Pixels[i] != sb.Pixels[i] {
			t.Fatal("same seed must produce identical samples")
		}
	}
}

func TestIDXDataset_Split(t *testing.T) {
	ds := SyntheticIDX(100, 8, 8, 5, 3)
	train, val := ds.Split(0.2)

	if train.Len() != 80 || val.Len() != 20 {
		t.Fatalf("expected 80/20 split, got %d/%d", train.Len(), val.Len())
	}
	if train.NumClasses() != 5 || val.NumClasses() != 5 {
		t.Fatal("split must preserve class count")
	}
}
