package main

import "math"

type columnStats struct {
	Max, Mean, Min, Std float64
}

// describe computes the population standard deviation, like numpy's default.
// All fields are NaN for an empty column.
func describe(values []float64) columnStats {
	if len(values) == 0 {
		nan := math.NaN()
		return columnStats{nan, nan, nan, nan}
	}
	st := columnStats{Max: math.Inf(-1), Min: math.Inf(1)}
	var sum float64
	for _, v := range values {
		st.Max = max(st.Max, v)
		st.Min = min(st.Min, v)
		sum += v
	}
	st.Mean = sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - st.Mean
		sq += d * d
	}
	st.Std = math.Sqrt(sq / float64(len(values)))
	return st
}
