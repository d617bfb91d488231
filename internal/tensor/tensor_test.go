package tensor

import (
	"math/rand"
	"testing"
)

func TestShape_Size(t *testing.T) {
	if got := (Shape{2, 3, 4}).Size(); got != 24 {
		t.Errorf("Size: expected 24, got %d", got)
	}
	if got := (Shape{7}).Size(); got != 7 {
		t.Errorf("Size: expected 7, got %d", got)
	}
}

func TestShape_Equal(t *testing.T) {
	if !(Shape{2, 3}).Equal(Shape{2, 3}) {
		t.Error("expected shapes to be equal")
	}
	if (Shape{2, 3}).Equal(Shape{3, 2}) {
		t.Error("expected shapes to differ")
	}
	if (Shape{2, 3}).Equal(Shape{2, 3, 1}) {
		t.Error("expected shapes of different rank to differ")
	}
}

func TestNew_ZeroFilled(t *testing.T) {
	x := New(Shape{2, 3})
	if x.Size() != 6 {
		t.Fatalf("expected 6 elements, got %d", x.Size())
	}
	for i, v := range x.Data() {
		if v != 0 {
			t.Errorf("element %d: expected 0, got %f", i, v)
		}
	}
}

func TestFromSlice_LengthMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	if err == nil {
		t.Fatal("expected error for mismatched data length")
	}
}

func TestClone_Independent(t *testing.T) {
	x := Full(Shape{4}, 1.5)
	y := x.Clone()
	y.Data()[0] = 9
	if x.Data()[0] != 1.5 {
		t.Error("Clone must not share backing data")
	}
}

func TestReshape(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	y := x.Reshape(3, 2)
	if !y.Shape().Equal(Shape{3, 2}) {
		t.Errorf("expected shape [3 2], got %v", y.Shape())
	}
	if y.Data()[5] != 6 {
		t.Errorf("reshape must preserve element order, got %f", y.Data()[5])
	}
}

func TestMatMul(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	b, _ := FromSlice([]float32{7, 8, 9, 10, 11, 12}, Shape{3, 2})
	c := a.MatMul(b)

	want := []float32{58, 64, 139, 154}
	for i, v := range want {
		if c.Data()[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, c.Data()[i])
		}
	}
}

func TestTranspose(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	at := a.Transpose()
	if !at.Shape().Equal(Shape{3, 2}) {
		t.Fatalf("expected shape [3 2], got %v", at.Shape())
	}
	// a[0][1] == at[1][0]
	if at.Data()[1*2+0] != 2 {
		t.Errorf("expected 2 at [1,0], got %f", at.Data()[2])
	}
}

func TestAddRowBroadcast(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4}, Shape{2, 2})
	bias, _ := FromSlice([]float32{10, 20}, Shape{2})
	y := x.AddRowBroadcast(bias)
	want := []float32{11, 22, 13, 24}
	for i, v := range want {
		if y.Data()[i] != v {
			t.Errorf("element %d: expected %f, got %f", i, v, y.Data()[i])
		}
	}
}

func TestSumRows(t *testing.T) {
	x, _ := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{3, 2})
	s := x.SumRows()
	if s.Data()[0] != 9 || s.Data()[1] != 12 {
		t.Errorf("expected [9 12], got %v", s.Data())
	}
}

func TestArgmaxRows(t *testing.T) {
	x, _ := FromSlice([]float32{0.1, 0.9, 0.5, 0.2, 0.3, 0.1}, Shape{2, 3})
	got := x.ArgmaxRows()
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("expected [1 0], got %v", got)
	}
}

func TestRandn_Seeded(t *testing.T) {
	a := Randn(Shape{16}, rand.New(rand.NewSource(7)))
	b := Randn(Shape{16}, rand.New(rand.NewSource(7)))
	for i := range a.Data() {
		if a.Data()[i] != b.Data()[i] {
			t.Fatal("same seed must produce identical tensors")
		}
	}
}

func TestAddScaledInPlace(t *testing.T) {
	x := Full(Shape{3}, 1)
	g := Full(Shape{3}, 2)
	x.AddScaledInPlace(g, -0.5)
	for _, v := range x.Data() {
		if v != 0 {
			t.Errorf("expected 0, got %f", v)
		}
	}
}
