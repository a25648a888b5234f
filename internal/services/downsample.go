package services

// Downsample reduces points to at most maxPoints by fixed-stride sampling
// with step = ceil(len/maxPoints). The first point is always kept and so is
// the last: if the stride skips it, it is appended, or replaces the final
// sample when the output is already full. maxPoints below 2 is treated as 2.
func Downsample[T any](points []T, maxPoints int) []T {
	if maxPoints < 2 {
		maxPoints = 2
	}
	n := len(points)
	if n <= maxPoints {
		return append([]T(nil), points...)
	}

	step := (n + maxPoints - 1) / maxPoints
	out := make([]T, 0, maxPoints)
	for i := 0; i < n; i += step {
		out = append(out, points[i])
	}

	if (n-1)%step != 0 {
		if len(out) < maxPoints {
			out = append(out, points[n-1])
		} else {
			out[len(out)-1] = points[n-1]
		}
	}
	return out
}
