package scoring

// Weighted shrinks a signal toward the prior mean p with confidence constant k:
//
//	(n*S + k*p) / (n + k)
//
// With n == 0 the result is exactly p.
func Weighted(s Signal, p, k float64) float64 {
	if s.N <= 0 {
		return p
	}
	n := float64(s.N)
	return (n*s.Value + k*p) / (n + k)
}
