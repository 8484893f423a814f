// ABOUTME: Linear-interpolation resampler for mono PCM
// ABOUTME: Converts decoded audio at native rates to the canonical 44.1kHz
package stream

// Resample converts mono samples from one rate to another using linear
// interpolation. Whole-buffer variant: the full track is decoded before
// chunking, so no streaming state is needed.
func Resample(input []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(input) == 0 {
		return input
	}

	ratio := float64(fromRate) / float64(toRate)
	outputLen := int(float64(len(input)) / ratio)
	output := make([]int16, 0, outputLen)

	pos := 0.0
	for {
		idx := int(pos)
		if idx >= len(input)-1 {
			break
		}
		frac := pos - float64(idx)
		interpolated := float64(input[idx])*(1.0-frac) + float64(input[idx+1])*frac
		output = append(output, int16(interpolated))
		pos += ratio
	}

	return output
}
