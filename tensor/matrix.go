package tensor

import (
	"fmt"
)

func checkMatrix(t *Tensor, name string) (rows, cols int, err error) {
	if t == nil || len(t.Shape) != 2 || t.DType != Float32 {
		return 0, 0, fmt.Errorf("%s: expected 2-d Float32 matrix, got %v", name, t)
	}
	return t.Shape[0], t.Shape[1], nil
}

// MatMul multiplies two 2-d Float32 matrices.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	rows1, cols1, err := checkMatrix(t1, "matmul lhs")
	if err != nil {
		return nil, err
	}
	rows2, cols2, err := checkMatrix(t2, "matmul rhs")
	if err != nil {
		return nil, err
	}
	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result := make([]float32, rows1*cols2)
	MatMulInto(result, t1.Float32(), t2.Float32(), rows1, cols1, cols2, false)
	return NewTensor([]int{rows1, cols2}, Float32, result)
}

// MatMulInto computes dst = a[m,k] x b[k,n], or dst += a x b when accumulate
// is set. Loops run i-k-j so the inner loop walks both b and dst contiguously.
func MatMulInto(dst, a, b []float32, m, k, n int, accumulate bool) {
	if !accumulate {
		for i := range dst[:m*n] {
			dst[i] = 0
		}
	}
	for i := 0; i < m; i++ {
		row := dst[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			bRow := b[p*n : (p+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}
}

// MatMulTransBInto computes dst (+)= a[m,k] x b[n,k]^T without materialising
// the transpose.
func MatMulTransBInto(dst, a, b []float32, m, k, n int, accumulate bool) {
	for i := 0; i < m; i++ {
		aRow := a[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			bRow := b[j*k : (j+1)*k]
			var sum float32
			for p, av := range aRow {
				sum += av * bRow[p]
			}
			if accumulate {
				dst[i*n+j] += sum
			} else {
				dst[i*n+j] = sum
			}
		}
	}
}

// Transpose swaps the two dimensions of a 2-d tensor, returning a copy.
func Transpose(t *Tensor) (*Tensor, error) {
	if t == nil || len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose: expected 2-d tensor, got %v", t)
	}
	rows, cols := t.Shape[0], t.Shape[1]

	switch d := t.Data.(type) {
	case []float32:
		out := make([]float32, len(d))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[j*rows+i] = d[i*cols+j]
			}
		}
		return NewTensor([]int{cols, rows}, Float32, out)
	case []int32:
		out := make([]int32, len(d))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[j*rows+i] = d[i*cols+j]
			}
		}
		return NewTensor([]int{cols, rows}, Int32, out)
	default:
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}
}
