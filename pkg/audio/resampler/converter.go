package resampler

import (
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter converts PCM chunks from one Format to another. It is safe for
// concurrent use but chunks must be pushed in order.
type Converter struct {
	src, dst Format

	mu        sync.Mutex
	resampler resampling.Resampler
	partial   []byte
}

// New returns a Converter from src to dst.
func New(src, dst Format) (*Converter, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	if err := dst.validate(); err != nil {
		return nil, err
	}
	c := &Converter{src: src, dst: dst}
	if src.SampleRate != dst.SampleRate {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(src.SampleRate),
			OutputRate: float64(dst.SampleRate),
			Channels:   dst.channels(),
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler: create: %w", err)
		}
		c.resampler = r
	}
	return c, nil
}

// Source returns the input format.
func (c *Converter) Source() Format { return c.src }

// Target returns the output format.
func (c *Converter) Target() Format { return c.dst }

// Convert converts pcm and returns the output produced so far. The result may
// be empty while the resampler fills its filter window.
func (c *Converter) Convert(pcm []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := pcm
	if len(c.partial) > 0 {
		data = append(c.partial, pcm...)
		c.partial = nil
	}
	fb := c.src.FrameBytes()
	whole := len(data) / fb * fb
	if rest := data[whole:]; len(rest) > 0 {
		c.partial = append([]byte(nil), rest...)
	}
	if whole == 0 {
		return nil, nil
	}

	samples := decode(data[:whole])
	samples = remix(samples, c.src.channels(), c.dst.channels())
	if c.resampler != nil {
		out, err := c.resampler.Process(samples)
		if err != nil {
			return nil, fmt.Errorf("resampler: process: %w", err)
		}
		samples = out
	}
	return encode(samples), nil
}

// decode turns int16 LE samples into floats in [-1, 1).
func decode(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		s := int16(b[2*i]) | int16(b[2*i+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

func encode(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, f := range samples {
		v := f * 32768.0
		v = min(max(v, -32768), 32767)
		s := int16(v)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// remix converts interleaved samples between mono and stereo. Downmixing
// averages left and right.
func remix(samples []float64, from, to int) []float64 {
	switch {
	case from == to:
		return samples
	case from == 2 && to == 1:
		out := make([]float64, len(samples)/2)
		for i := range out {
			out[i] = (samples[2*i] + samples[2*i+1]) / 2
		}
		return out
	default:
		out := make([]float64, len(samples)*2)
		for i, s := range samples {
			out[2*i], out[2*i+1] = s, s
		}
		return out
	}
}
