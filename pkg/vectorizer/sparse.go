package vectorizer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SparseVector is a sparse row vector of fixed dimensionality. Indices are
// sorted ascending and unique; only non-zero values are stored.
type SparseVector struct {
	Dim     int
	Indices []uint32
	Values  []float32
}

// NNZ returns the number of stored non-zero entries.
func (v *SparseVector) NNZ() int {
	return len(v.Indices)
}

// Norm returns the L2 norm of the vector.
func (v *SparseVector) Norm() float64 {
	var sum float64
	for _, val := range v.Values {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// Normalize scales the vector to unit L2 norm in place. A zero vector is
// left unchanged.
func (v *SparseVector) Normalize() {
	n := v.Norm()
	if n == 0 {
		return
	}
	for i := range v.Values {
		v.Values[i] = float32(float64(v.Values[i]) / n)
	}
}

// Dot returns the inner product with other. For unit-norm vectors this is
// the cosine similarity.
func (v *SparseVector) Dot(other *SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(other.Indices) {
		switch {
		case v.Indices[i] < other.Indices[j]:
			i++
		case v.Indices[i] > other.Indices[j]:
			j++
		default:
			sum += float64(v.Values[i]) * float64(other.Values[j])
			i++
			j++
		}
	}
	return sum
}

// Dense expands the vector to a dense float32 slice of length dim, padding
// with zeros or truncating as needed. Used at the KV backend boundary.
func (v *SparseVector) Dense(dim int) []float32 {
	out := make([]float32, dim)
	for i, idx := range v.Indices {
		if int(idx) < dim {
			out[idx] = v.Values[i]
		}
	}
	return out
}

// Wire format: little-endian uint32 dim, uint32 nnz, nnz*uint32 indices,
// nnz*float32 values.

// Serialize encodes the vector into its canonical wire format.
func (v *SparseVector) Serialize() []byte {
	nnz := len(v.Indices)
	buf := make([]byte, 8+8*nnz)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Dim))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(nnz))
	off := 8
	for _, idx := range v.Indices {
		binary.LittleEndian.PutUint32(buf[off:], idx)
		off += 4
	}
	for _, val := range v.Values {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(val))
		off += 4
	}
	return buf
}

// Deserialize decodes a vector from its wire format, validating structure
// and index bounds.
func Deserialize(data []byte) (*SparseVector, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("sparse vector too short: %d bytes", len(data))
	}
	dim := binary.LittleEndian.Uint32(data[0:4])
	nnz := binary.LittleEndian.Uint32(data[4:8])
	if want := 8 + 8*int(nnz); len(data) != want {
		return nil, fmt.Errorf("sparse vector length mismatch: have %d bytes, want %d", len(data), want)
	}
	if nnz > dim {
		return nil, fmt.Errorf("sparse vector has %d entries for dimension %d", nnz, dim)
	}

	v := &SparseVector{
		Dim:     int(dim),
		Indices: make([]uint32, nnz),
		Values:  make([]float32, nnz),
	}
	off := 8
	var prev int64 = -1
	for i := range v.Indices {
		idx := binary.LittleEndian.Uint32(data[off:])
		if idx >= dim {
			return nil, fmt.Errorf("sparse vector index %d out of range [0, %d)", idx, dim)
		}
		if int64(idx) <= prev {
			return nil, fmt.Errorf("sparse vector indices not strictly ascending")
		}
		prev = int64(idx)
		v.Indices[i] = idx
		off += 4
	}
	for i := range v.Values {
		v.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	return v, nil
}

// FromDense builds a sparse vector from a dense float32 slice, dropping
// zero entries.
func FromDense(dense []float32) *SparseVector {
	v := &SparseVector{Dim: len(dense)}
	for i, val := range dense {
		if val != 0 {
			v.Indices = append(v.Indices, uint32(i))
			v.Values = append(v.Values, val)
		}
	}
	return v
}
