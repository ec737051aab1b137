// Package tensor holds the two value shapes the trainer moves around: integer
// token matrices for batches and float parameter vectors with gradients.
package tensor

import "fmt"

// Matrix is a dense 2-D grid of token ids, stored row-major. Batches arrive
// time-major (rows are timesteps) and are transposed to batch-major (rows are
// examples) before reaching a model.
type Matrix struct {
	Rows, Cols int
	Data       []int64
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("tensor: invalid matrix shape %dx%d", rows, cols))
	}
	return &Matrix{Rows: rows, Cols: cols, Data: make([]int64, rows*cols)}
}

// FromRows builds a matrix from equal-length rows.
func FromRows(rows [][]int64) *Matrix {
	if len(rows) == 0 {
		return NewMatrix(0, 0)
	}
	cols := len(rows[0])
	m := NewMatrix(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			panic(fmt.Sprintf("tensor: ragged row %d: got %d values, want %d", i, len(row), cols))
		}
		copy(m.Data[i*cols:(i+1)*cols], row)
	}
	return m
}

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) int64 {
	return m.Data[i*m.Cols+j]
}

// Set writes the value at row i, column j.
func (m *Matrix) Set(i, j int, v int64) {
	m.Data[i*m.Cols+j] = v
}

// Row returns row i as a slice view into the matrix.
func (m *Matrix) Row(i int) []int64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Transpose returns a new matrix with rows and columns swapped.
func (m *Matrix) Transpose() *Matrix {
	t := NewMatrix(m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			t.Set(j, i, m.At(i, j))
		}
	}
	return t
}

// MaskedLen returns how many entries in row i are positive. Padding is the
// zero token, so for a padded target row this is the unpadded length.
func (m *Matrix) MaskedLen(i int) int {
	n := 0
	for _, v := range m.Row(i) {
		if v > 0 {
			n++
		}
	}
	return n
}
