package live

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// WAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header.
func WAV(f Format, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	le(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	le(uint32(16)) // PCM fmt chunk size
	le(uint16(1))  // PCM
	le(uint16(f.Channels))
	le(uint32(f.SampleRate))
	le(uint32(f.BytesPerSecond()))
	le(uint16(f.FrameSize()))
	le(uint16(f.BitsPerSample))

	buf.WriteString("data")
	le(uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
