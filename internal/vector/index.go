// Package vector provides an exact, append-only squared-L2 vector index.
package vector

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
)

// Neighbor is a single k-NN hit. Distance is squared L2.
type Neighbor struct {
	Ordinal  int
	Distance float64
}

// FlatIndex stores vectors contiguously and answers queries by scanning all of
// them. Ordinals are assigned in insertion order starting at 0 and never change.
type FlatIndex struct {
	dimension int
	data      []float32
	count     int
	mu        sync.RWMutex
}

// NewFlatIndex creates an empty index for vectors of the given dimension.
func NewFlatIndex(dimension int) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &FlatIndex{dimension: dimension}, nil
}

// Dimension returns the fixed vector length.
func (f *FlatIndex) Dimension() int {
	return f.dimension
}

// Len returns the number of stored vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Append stores a copy of vec and returns its ordinal.
func (f *FlatIndex) Append(vec []float32) (int, error) {
	if len(vec) != f.dimension {
		return 0, &ErrDimensionMismatch{Expected: f.dimension, Actual: len(vec)}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, vec...)
	ord := f.count
	f.count++
	return ord, nil
}

// Vector returns a copy of the vector at ordinal.
func (f *FlatIndex) Vector(ordinal int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if ordinal < 0 || ordinal >= f.count {
		return nil, fmt.Errorf("ordinal %d out of range [0, %d)", ordinal, f.count)
	}
	out := make([]float32, f.dimension)
	copy(out, f.row(ordinal))
	return out, nil
}

func (f *FlatIndex) row(ordinal int) []float32 {
	start := ordinal * f.dimension
	return f.data[start : start+f.dimension]
}

// QueryKNearest returns up to k neighbors of query ordered by ascending
// squared distance, ties broken by lower ordinal. k larger than Len returns
// every vector; an empty index or k <= 0 returns an empty slice.
func (f *FlatIndex) QueryKNearest(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dimension {
		return nil, &ErrDimensionMismatch{Expected: f.dimension, Actual: len(query)}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || f.count == 0 {
		return []Neighbor{}, nil
	}
	if k > f.count {
		k = f.count
	}

	h := make(worstFirst, 0, k)
	for ord := 0; ord < f.count; ord++ {
		n := Neighbor{Ordinal: ord, Distance: SquaredL2(query, f.row(ord))}
		if len(h) < k {
			heap.Push(&h, n)
			continue
		}
		if closer(n, h[0]) {
			h[0] = n
			heap.Fix(&h, 0)
		}
	}

	out := []Neighbor(h)
	sort.Slice(out, func(i, j int) bool { return closer(out[i], out[j]) })
	return out, nil
}

// closer orders neighbors by distance, then ordinal.
func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Ordinal < b.Ordinal
}

// worstFirst is a max-heap: the root is the neighbor that would be evicted first.
type worstFirst []Neighbor

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
