package vector

// SquaredL2 returns the squared Euclidean distance between a and b.
// Accumulation is done in float64; the caller guarantees equal lengths.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
