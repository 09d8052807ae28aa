package resampler

import (
	"bytes"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		b[2*i] = byte(s)
		b[2*i+1] = byte(s >> 8)
	}
	return b
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		f         Format
		frame     int
		perSecond int
	}{
		{"mono 16k", Mono16k, 2, 32000},
		{"stereo 48k", Format{SampleRate: 48000, Stereo: true}, 4, 192000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.FrameBytes(); got != tt.frame {
				t.Errorf("FrameBytes() = %d, want %d", got, tt.frame)
			}
			if got := tt.f.BytesPerSecond(); got != tt.perSecond {
				t.Errorf("BytesPerSecond() = %d, want %d", got, tt.perSecond)
			}
		})
	}
	if got := Mono16k.MIMEType(); got != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType() = %q", got)
	}
}

func TestNewInvalid(t *testing.T) {
	if _, err := New(Format{}, Mono16k); err == nil {
		t.Error("zero sample rate accepted")
	}
}

func TestConvertPassthrough(t *testing.T) {
	c, err := New(Mono16k, Mono16k)
	if err != nil {
		t.Fatal(err)
	}
	in := pcm16(0, 1000, -1000, 32767, -32768)
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("Convert = %v, want %v", out, in)
	}
}

func TestConvertKeepsPartialFrames(t *testing.T) {
	c, err := New(Format{SampleRate: 16000, Stereo: true}, Mono16k)
	if err != nil {
		t.Fatal(err)
	}
	in := pcm16(100, 300, -200, -400)

	out, err := c.Convert(in[:3])
	if err != nil || len(out) != 0 {
		t.Fatalf("Convert(partial) = %v, %v", out, err)
	}
	out, err = c.Convert(in[3:])
	if err != nil {
		t.Fatal(err)
	}
	if want := pcm16(200, -300); !bytes.Equal(out, want) {
		t.Errorf("Convert = %v, want %v", out, want)
	}
}

func TestConvertMonoToStereo(t *testing.T) {
	c, err := New(Mono16k, Format{SampleRate: 16000, Stereo: true})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Convert(pcm16(7, -7))
	if err != nil {
		t.Fatal(err)
	}
	if want := pcm16(7, 7, -7, -7); !bytes.Equal(out, want) {
		t.Errorf("Convert = %v, want %v", out, want)
	}
}

func TestConvertDownsample(t *testing.T) {
	src := Format{SampleRate: 48000}
	c, err := New(src, Mono16k)
	if err != nil {
		t.Fatal(err)
	}
	// One second of a 440Hz tone in 100ms chunks.
	var total int
	for chunk := range 10 {
		samples := make([]int16, 4800)
		for i := range samples {
			n := chunk*4800 + i
			samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(n)/48000))
		}
		out, err := c.Convert(pcm16(samples...))
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
		total += len(out) / 2
	}
	// Allow for the filter delay of the resampler.
	if total < 14000 || total > 16100 {
		t.Errorf("got %d output samples for 1s, want about 16000", total)
	}
}
