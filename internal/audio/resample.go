package audio

import "fmt"

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out, nil
}

// Normalize returns the clip at rate, resampling if needed. A clip already
// at rate is returned as is.
func (c *Clip) Normalize(rate int) (*Clip, error) {
	if len(c.Samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if c.SampleRate == rate && rate > 0 {
		return c, nil
	}
	samples, err := Resample(c.Samples, c.SampleRate, rate)
	if err != nil {
		return nil, err
	}
	return &Clip{Samples: samples, SampleRate: rate}, nil
}
