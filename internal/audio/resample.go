package audio

import "math"

const firTaps = 31

// Resample converts between sample rates with linear interpolation plus a
// windowed-sinc low-pass to suppress aliasing: applied to the input when
// reducing the rate, to the output when raising it. Same-rate input passes
// through untouched.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	nyquist := float64(min(srcRate, dstRate)) / 2

	src := samples
	if srcRate > dstRate {
		src = firFilter(src, blackmanSinc(nyquist/float64(srcRate), firTaps))
	}

	step := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(src))/step))
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j+1 >= len(src) {
			out[i] = src[len(src)-1]
			continue
		}
		f := float32(pos - float64(j))
		out[i] = src[j] + (src[j+1]-src[j])*f
	}

	if dstRate > srcRate {
		out = firFilter(out, blackmanSinc(nyquist/float64(dstRate), firTaps))
	}
	return out
}

// firFilter convolves samples with kernel, truncating taps that fall outside
// the signal.
func firFilter(samples, kernel []float32) []float32 {
	half := len(kernel) / 2
	out := make([]float32, len(samples))
	for i := range samples {
		lo := max(0, half-i)
		hi := min(len(kernel), len(samples)-i+half)
		var acc float32
		for k := lo; k < hi; k++ {
			acc += samples[i+k-half] * kernel[k]
		}
		out[i] = acc
	}
	return out
}

// blackmanSinc builds a unity-gain low-pass FIR kernel for the normalized
// cutoff fc (cutoff frequency over sample rate).
func blackmanSinc(fc float64, taps int) []float32 {
	half := taps / 2
	kernel := make([]float32, taps)

	var gain float64
	for i := range kernel {
		n := float64(i - half)
		s := 1.0
		if n != 0 {
			x := 2 * math.Pi * fc * n
			s = math.Sin(x) / x
		}
		u := float64(i) / float64(taps-1)
		w := 0.42 - 0.5*math.Cos(2*math.Pi*u) + 0.08*math.Cos(4*math.Pi*u)
		kernel[i] = float32(s * w)
		gain += s * w
	}
	for i := range kernel {
		kernel[i] = float32(float64(kernel[i]) / gain)
	}
	return kernel
}
