// Package resampler converts 16-bit little-endian PCM between sample rates and
// channel layouts.
//
// Converter is push-style: callers hand it chunks of any size as they arrive
// from a capture device and get back converted PCM. Partial frames are kept
// until the rest of the frame arrives.
//
//	c, err := resampler.New(resampler.Format{SampleRate: 48000, Stereo: true}, resampler.Mono16k)
//	out, err := c.Convert(chunk)
//
// Rate conversion uses github.com/tphakala/go-audio-resampling.
package resampler
