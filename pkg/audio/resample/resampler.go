// ABOUTME: Streaming linear resampler for interleaved int16 audio
// ABOUTME: Carries the interpolation position and last frame across calls
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
	last       []int16
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		last:       make([]int16, channels),
	}
}

// InputRate returns the source sample rate.
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the target sample rate.
func (r *Resampler) OutputRate() int { return r.outputRate }

// Resample converts input to the output rate and returns the number of
// samples written. All of input is consumed; output must hold
// OutputSamplesNeeded(len(input)) samples.
func (r *Resampler) Resample(input []int16, output []int16) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	if !r.primed {
		// start exactly on the first input frame
		copy(r.last, input[:r.channels])
		r.position = 1
		r.primed = true
	}

	// coordinate 0 is the carried frame, input frame i sits at i+1
	at := func(k, ch int) float64 {
		if k == 0 {
			return float64(r.last[ch])
		}
		return float64(input[(k-1)*r.channels+ch])
	}

	outputFrames := len(output) / r.channels
	outIdx := 0
	for outIdx < outputFrames {
		base := int(r.position)
		if base >= inputFrames {
			break
		}
		frac := r.position - float64(base)
		for ch := 0; ch < r.channels; ch++ {
			v := at(base, ch)*(1-frac) + at(base+1, ch)*frac
			output[outIdx*r.channels+ch] = int16(v)
		}
		outIdx++
		r.position += r.ratio
	}

	r.position -= float64(inputFrames)
	copy(r.last, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	clear(r.last)
}

// OutputSamplesNeeded returns an upper bound on the samples produced from
// inputSamples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	return (int(float64(inputFrames)/r.ratio) + 2) * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
