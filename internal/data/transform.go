package data

// Standardize returns a MapFunc shifting pixels from [0, 1] to zero-centered
// [-1, 1]. Safe for concurrent map workers.
func Standardize() MapFunc {
	return func(s Sample) (Sample, error) {
		out := Sample{Pixels: make([]float32, len(s.Pixels)), Label: s.Label}
		for i, v := range s.Pixels {
			out.Pixels[i] = v*2 - 1
		}
		return out, nil
	}
}
