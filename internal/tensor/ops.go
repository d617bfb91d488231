package tensor

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/parallel"
)

// Add returns t + other element-wise. Shapes must match exactly.
func (t *Tensor) Add(other *Tensor) *Tensor {
	t.assertSameShape(other, "Add")
	out := t.Clone()
	for i, v := range other.data {
		out.data[i] += v
	}
	return out
}

// Sub returns t - other element-wise. Shapes must match exactly.
func (t *Tensor) Sub(other *Tensor) *Tensor {
	t.assertSameShape(other, "Sub")
	out := t.Clone()
	for i, v := range other.data {
		out.data[i] -= v
	}
	return out
}

// Mul returns the element-wise (Hadamard) product. Shapes must match exactly.
func (t *Tensor) Mul(other *Tensor) *Tensor {
	t.assertSameShape(other, "Mul")
	out := t.Clone()
	for i, v := range other.data {
		out.data[i] *= v
	}
	return out
}

// Scale returns t * s.
func (t *Tensor) Scale(s float32) *Tensor {
	out := t.Clone()
	for i := range out.data {
		out.data[i] *= s
	}
	return out
}

// AddScaledInPlace performs t += s * other without allocating.
// Shapes must match exactly. Used by optimizers and gradient accumulation.
func (t *Tensor) AddScaledInPlace(other *Tensor, s float32) {
	t.assertSameShape(other, "AddScaledInPlace")
	for i, v := range other.data {
		t.data[i] += s * v
	}
}

// ScaleInPlace performs t *= s without allocating.
func (t *Tensor) ScaleInPlace(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// AddRowBroadcast returns t + row where t is [rows, cols] and row is [cols].
// Used for bias addition in Dense layers.
func (t *Tensor) AddRowBroadcast(row *Tensor) *Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: AddRowBroadcast expects 2D receiver, got %v", t.shape))
	}
	if len(row.shape) != 1 || row.shape[0] != t.shape[1] {
		panic(fmt.Sprintf("tensor: AddRowBroadcast row shape %v does not match columns of %v",
			row.shape, t.shape))
	}
	out := t.Clone()
	cols := t.shape[1]
	for r := 0; r < t.shape[0]; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			out.data[base+c] += row.data[c]
		}
	}
	return out
}

// MatMul returns t @ other for 2D tensors [m, k] @ [k, n] -> [m, n].
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic(fmt.Sprintf("tensor: MatMul expects 2D operands, got %v and %v", t.shape, other.shape))
	}
	m, k := t.shape[0], t.shape[1]
	k2, n := other.shape[0], other.shape[1]
	if k != k2 {
		panic(fmt.Sprintf("tensor: MatMul inner dimensions differ: %v @ %v", t.shape, other.shape))
	}

	out := New(Shape{m, n})
	a, b, c := t.data, other.data, out.data
	// ikj order keeps the inner loop streaming over b and c. Rows are
	// independent, so large products fan out across goroutines.
	parallel.For(m, func(i int) {
		aRow := a[i*k : (i+1)*k]
		cRow := c[i*n : (i+1)*n]
		for l := 0; l < k; l++ {
			av := aRow[l]
			if av == 0 {
				continue
			}
			bRow := b[l*n : (l+1)*n]
			for j := 0; j < n; j++ {
				cRow[j] += av * bRow[j]
			}
		}
	})
	return out
}

// Transpose returns the transpose of a 2D tensor.
func (t *Tensor) Transpose() *Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: Transpose expects 2D tensor, got %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	out := New(Shape{cols, rows})
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.data[c*rows+r] = t.data[r*cols+c]
		}
	}
	return out
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	var s float32
	for _, v := range t.data {
		s += v
	}
	return s
}

// SumRows reduces a [rows, cols] tensor to [cols] by summing over rows.
// Used for bias gradients.
func (t *Tensor) SumRows() *Tensor {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: SumRows expects 2D tensor, got %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	out := New(Shape{cols})
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			out.data[c] += t.data[base+c]
		}
	}
	return out
}

// ArgmaxRows returns, for a [rows, cols] tensor, the column index of the
// maximum in each row. Used for classification accuracy.
func (t *Tensor) ArgmaxRows() []int {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("tensor: ArgmaxRows expects 2D tensor, got %v", t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := t.data[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out
}

func (t *Tensor) assertSameShape(other *Tensor, op string) {
	if !t.shape.Equal(other.shape) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, t.shape, other.shape))
	}
}
