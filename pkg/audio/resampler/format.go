package resampler

import "fmt"

// Format describes 16-bit signed little-endian PCM.
type Format struct {
	SampleRate int
	Stereo     bool
}

// Mono16k is the input format of realtime speech models.
var Mono16k = Format{SampleRate: 16000}

func (f Format) channels() int {
	if f.Stereo {
		return 2
	}
	return 1
}

// FrameBytes is the size of one frame (one sample per channel).
func (f Format) FrameBytes() int {
	return 2 * f.channels()
}

// BytesPerSecond is the data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameBytes()
}

// MIMEType returns the audio/pcm type with the rate parameter.
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

func (f Format) validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("resampler: invalid sample rate %d", f.SampleRate)
	}
	return nil
}
