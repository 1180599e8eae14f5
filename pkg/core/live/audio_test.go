package live

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"max amplitude", []int16{32767, 32767, 32767, 32767}, 1},
		{"half amplitude", []int16{16384, 16384, 16384, 16384}, 0.5},
		{"mixed signal", []int16{16384, -16384, 16384, -16384}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(pcm16(tt.samples...)); math.Abs(got-tt.want) > 0.01 {
				t.Errorf("RMS() = %.3f, want %.3f", got, tt.want)
			}
		})
	}
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
}

func TestPeak(t *testing.T) {
	if got := Peak(pcm16(0, 16384, 0)); math.Abs(got-0.5) > 0.01 {
		t.Errorf("Peak() = %.3f, want 0.5", got)
	}
	if got := Peak(pcm16(0, -32768)); got != 1 {
		t.Errorf("Peak() = %.3f, want 1", got)
	}
}

func TestFormat(t *testing.T) {
	f := MicFormat()
	if f.BytesPerSecond() != 32000 {
		t.Fatalf("BytesPerSecond() = %d, want 32000", f.BytesPerSecond())
	}
	if got := f.Bytes(time.Second); got != 32000 {
		t.Errorf("Bytes(1s) = %d, want 32000", got)
	}
	if got := f.Duration(16000); got != 500*time.Millisecond {
		t.Errorf("Duration(16000) = %v, want 500ms", got)
	}
	if got := f.Bytes(time.Millisecond / 32); got%2 != 0 {
		t.Errorf("Bytes() = %d, want a whole frame count", got)
	}
}

func TestClip_CapKeepsStart(t *testing.T) {
	f := MicFormat()
	clip := NewClip(f, 100*time.Millisecond)

	first := make([]byte, f.Bytes(80*time.Millisecond))
	for i := range first {
		first[i] = 1
	}
	if n, err := clip.Write(first); err != nil || n != len(first) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if clip.Truncated() {
		t.Fatal("Truncated() = true before reaching the cap")
	}

	second := make([]byte, f.Bytes(80*time.Millisecond))
	if n, _ := clip.Write(second); n != len(second) {
		t.Fatalf("Write() = %d, want %d", n, len(second))
	}
	if clip.Duration() != 100*time.Millisecond {
		t.Errorf("Duration() = %v, want 100ms", clip.Duration())
	}
	if !clip.Truncated() {
		t.Error("Truncated() = false after overflowing the cap")
	}
	if b := clip.Bytes(); b[0] != 1 {
		t.Error("start of the recording was not kept")
	}

	clip.Reset()
	if clip.Len() != 0 || clip.Truncated() {
		t.Errorf("after Reset Len() = %d, Truncated() = %v", clip.Len(), clip.Truncated())
	}
}

func TestClip_Tail(t *testing.T) {
	f := MicFormat()
	clip := NewClip(f, 0)
	_, _ = clip.Write(pcm16(1, 2, 3, 4))

	tail := clip.Tail(time.Second)
	if len(tail) != 8 {
		t.Fatalf("Tail() len = %d, want 8", len(tail))
	}
	tail[0] = 9
	if clip.Bytes()[0] == 9 {
		t.Error("Tail() must return a copy")
	}
}

func TestWAV(t *testing.T) {
	pcm := pcm16(1, -1, 2)
	wav := WAV(MicFormat(), pcm)

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", wav[:40])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}
