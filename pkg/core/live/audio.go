package live

import (
	"math"
	"sync"
	"time"
)

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// MicFormat is what the microphone adapters record: 16kHz mono s16le.
func MicFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// FrameSize is the size of one sample across all channels.
func (f Format) FrameSize() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// Duration returns the play time of n bytes.
func (f Format) Duration(n int) time.Duration {
	rate := f.BytesPerSecond()
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// Bytes returns the byte count for d, rounded down to a whole frame.
func (f Format) Bytes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	if fs := f.FrameSize(); fs > 1 {
		n -= n % fs
	}
	return n
}

// RMS computes the root-mean-square energy of 16-bit PCM in [0, 1].
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}

// Peak returns the largest absolute 16-bit sample in [0, 1].
func Peak(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		v := math.Abs(float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)))
		if v > peak {
			peak = v
		}
	}
	return peak / 32768.0
}

// Clip accumulates one recording. Once the cap is reached further audio is dropped and
// the clip is marked truncated; the start of a recording is kept.
type Clip struct {
	mu        sync.Mutex
	format    Format
	data      []byte
	maxBytes  int
	truncated bool
}

// NewClip returns a clip capped at max. max <= 0 means no cap.
func NewClip(f Format, max time.Duration) *Clip {
	return &Clip{format: f, maxBytes: f.Bytes(max)}
}

// Write appends PCM. It never fails so the clip can sit behind io.Copy.
func (c *Clip) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := p
	if c.maxBytes > 0 {
		room := c.maxBytes - len(c.data)
		if room <= 0 {
			c.truncated = c.truncated || len(p) > 0
			return len(p), nil
		}
		if len(keep) > room {
			keep = keep[:room]
			c.truncated = true
		}
	}
	c.data = append(c.data, keep...)
	return len(p), nil
}

// Bytes returns a copy of the recorded PCM.
func (c *Clip) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Tail returns a copy of the last d of audio.
func (c *Clip) Tail(d time.Duration) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.format.Bytes(d)
	if n > len(c.data) {
		n = len(c.data)
	}
	out := make([]byte, n)
	copy(out, c.data[len(c.data)-n:])
	return out
}

func (c *Clip) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Duration returns the recorded play time.
func (c *Clip) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.Duration(len(c.data))
}

// Truncated reports whether audio was dropped at the cap.
func (c *Clip) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// Reset empties the clip.
func (c *Clip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = c.data[:0]
	c.truncated = false
}
